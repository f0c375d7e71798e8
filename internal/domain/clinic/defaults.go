package clinic

// Built-in status ids.
const (
	StatusWaiting   = "WAITING"
	StatusExamining = "EXAMINING"
	StatusExamWait  = "EXAM_WAIT"
	StatusCompleted = "COMPLETED"
)

// DefaultNotice is shown on the public display when no notices are set.
const DefaultNotice = "진료 순서가 되시면 성함을 확인하시고 진료실 앞에서 대기해주세요."

// ColorOption maps a palette color to its style classes.
type ColorOption struct {
	Value  string `json:"value"`
	Label  string `json:"label"`
	Bg     string `json:"bg"`
	Text   string `json:"text"`
	Border string `json:"border"`
	Hex    string `json:"hex"`
}

// Palette lists the colors a custom status may use. The first entry is the
// fallback for unknown colors.
var Palette = []ColorOption{
	{Value: "blue", Label: "파랑", Bg: "bg-blue-50", Text: "text-blue-700", Border: "border-blue-200", Hex: "#3B82F6"},
	{Value: "green", Label: "초록", Bg: "bg-green-50", Text: "text-green-700", Border: "border-green-200", Hex: "#10B981"},
	{Value: "amber", Label: "주황", Bg: "bg-amber-50", Text: "text-amber-700", Border: "border-amber-200", Hex: "#F59E0B"},
	{Value: "red", Label: "빨강", Bg: "bg-red-50", Text: "text-red-700", Border: "border-red-200", Hex: "#EF4444"},
	{Value: "purple", Label: "보라", Bg: "bg-purple-50", Text: "text-purple-700", Border: "border-purple-200", Hex: "#A855F7"},
	{Value: "gray", Label: "회색", Bg: "bg-gray-100", Text: "text-slate-500", Border: "border-gray-200", Hex: "#6B7280"},
}

// PaletteColor returns the palette entry for color, falling back to the
// first entry.
func PaletteColor(color string) ColorOption {
	for _, c := range Palette {
		if c.Value == color {
			return c
		}
	}
	return Palette[0]
}

func boolPtr(b bool) *bool { return &b }

// DefaultStatuses is the initial status taxonomy.
func DefaultStatuses() []CustomStatus {
	return []CustomStatus{
		{
			ID:         StatusWaiting,
			Label:      "대기",
			Color:      "gray",
			BgColor:    "bg-gray-100",
			TextColor:  "text-slate-500",
			IsTerminal: boolPtr(false),
		},
		{
			ID:          StatusExamining,
			Label:       "진료 중",
			Color:       "blue",
			BgColor:     "bg-blue-50",
			TextColor:   "text-[#3182F6]",
			BorderColor: "border-[#3182F6]",
			Icon:        "stethoscope",
			IsTerminal:  boolPtr(false),
		},
		{
			ID:          StatusExamWait,
			Label:       "검사 후 대기",
			Color:       "amber",
			BgColor:     "bg-amber-100",
			TextColor:   "text-amber-700",
			BorderColor: "border-amber-200",
			IsTerminal:  boolPtr(false),
		},
		{
			ID:          StatusCompleted,
			Label:       "완료",
			Color:       "green",
			BgColor:     "bg-green-50",
			TextColor:   "text-green-700",
			BorderColor: "border-green-200",
			IsTerminal:  boolPtr(true),
		},
	}
}

// DefaultSettings is the configuration used until the store holds one.
func DefaultSettings() ClinicSettings {
	return ClinicSettings{
		RoomNames: map[RoomID]string{
			Room1: "1진료실",
			Room2: "2진료실",
		},
		DoctorNames: map[RoomID]string{
			Room1: "김원장",
			Room2: "이원장",
		},
		ShowDoctorNames: true,
		ShowBanner:      true,
		Notices: []string{
			DefaultNotice,
			"점심시간은 오후 1시부터 2시까지입니다.",
			"주차권이 필요하신 분은 수납 시 말씀해주세요.",
		},
		CustomStatuses: DefaultStatuses(),
		BannerImages:   []string{},
	}
}

// SamplePatients returns the demo queue, registered relative to now (epoch
// milliseconds).
func SamplePatients(now int64) []Patient {
	return []Patient{
		{ID: "1", Name: "김철수", Status: StatusExamining, RoomID: Room1, RegisteredAt: now - 100000},
		{ID: "2", Name: "이영희", Status: StatusWaiting, RoomID: Room1, RegisteredAt: now - 50000},
		{ID: "3", Name: "박지민", Status: StatusExamining, RoomID: Room2, RegisteredAt: now - 90000},
		{ID: "4", Name: "최민수", Status: StatusExamWait, RoomID: Room2, RegisteredAt: now - 120000},
	}
}
