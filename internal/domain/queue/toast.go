package queue

import "time"

type ToastType string

const (
	ToastSuccess ToastType = "success"
	ToastError   ToastType = "error"
	ToastInfo    ToastType = "info"
)

// Toast is a short notification shown to the admin.
type Toast struct {
	Message string    `json:"message"`
	Type    ToastType `json:"type"`
	At      int64     `json:"at"`
}

const setupHint = " 설정 메뉴에서 저장소 연결 정보를 입력해주세요."

// Messages shown when an operation is attempted without a configured store.
const (
	MsgSetupAdd      = "데이터 저장을 위해 저장소 연결 설정이 필요합니다." + setupHint
	MsgSetupStatus   = "상태 변경을 저장하려면 저장소 연결 설정이 필요합니다." + setupHint
	MsgSetupDelete   = "환자 삭제를 저장하려면 저장소 연결 설정이 필요합니다." + setupHint
	MsgSetupReorder  = "순서 변경을 저장하려면 저장소 연결 설정이 필요합니다." + setupHint
	MsgSetupSettings = "변경사항을 저장하려면 저장소 연결 설정이 필요합니다." + setupHint
)

// Messages for write outcomes.
const (
	MsgAddFailed       = "환자 추가 중 오류가 발생했습니다"
	MsgStatusFailed    = "상태 변경 중 오류가 발생했습니다"
	MsgDeleteFailed    = "환자 삭제 중 오류가 발생했습니다"
	MsgReorderFailed   = "순서 변경 중 오류가 발생했습니다"
	MsgSaved           = "저장되었습니다"
	MsgSaveFailed      = "저장 중 오류가 발생했습니다"
	MsgCompletedPurged = "완료된 환자가 삭제되었습니다"
	MsgPurgeFailed     = "삭제 중 오류가 발생했습니다"
	MsgBannerUploaded  = "배너 이미지가 업로드되었습니다"
	MsgBannerRemoved   = "배너 이미지가 삭제되었습니다"
	MsgBannerNotImage  = "이미지 파일만 업로드 가능합니다"
	MsgBannerTooLarge  = "이미지 파일 크기는 5MB 이하여야 합니다."
	MsgBannerFailed    = "이미지 업로드 중 오류가 발생했습니다."
)

func newToast(msg string, typ ToastType, at time.Time) Toast {
	return Toast{Message: msg, Type: typ, At: at.UnixMilli()}
}
