package clinic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// settingsDocument is the stored shape of ClinicSettings. The store keeps
// ordered lists as maps: notices and banner images keyed by index, statuses
// keyed by id with an explicit position.
type settingsDocument struct {
	RoomNames       map[RoomID]string `json:"roomNames,omitempty"`
	DoctorNames     map[RoomID]string `json:"doctorNames,omitempty"`
	ShowDoctorNames *bool             `json:"showDoctorNames,omitempty"`
	ShowBanner      *bool             `json:"showBanner,omitempty"`
	Notices         json.RawMessage   `json:"notices,omitempty"`
	CustomStatuses  json.RawMessage   `json:"customStatuses,omitempty"`
	BannerImages    json.RawMessage   `json:"bannerImages,omitempty"`
}

type storedStatus struct {
	CustomStatus
	Position *int `json:"position,omitempty"`
}

// EncodeSettings converts settings to their stored form. isTerminal is
// always written.
func EncodeSettings(s ClinicSettings) (json.RawMessage, error) {
	statuses := make(map[string]storedStatus, len(s.CustomStatuses))
	for i, st := range s.CustomStatuses {
		pos := i
		statuses[st.ID] = storedStatus{CustomStatus: st.Materialize(), Position: &pos}
	}

	doc := settingsDocument{
		RoomNames:       s.RoomNames,
		DoctorNames:     s.DoctorNames,
		ShowDoctorNames: boolPtr(s.ShowDoctorNames),
		ShowBanner:      boolPtr(s.ShowBanner),
	}

	var err error
	if doc.Notices, err = encodeIndexed(s.Notices); err != nil {
		return nil, err
	}
	if doc.BannerImages, err = encodeIndexed(s.BannerImages); err != nil {
		return nil, err
	}
	if len(statuses) > 0 {
		if doc.CustomStatuses, err = json.Marshal(statuses); err != nil {
			return nil, fmt.Errorf("encode statuses: %w", err)
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return data, nil
}

func encodeIndexed(items []string) (json.RawMessage, error) {
	if len(items) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(items))
	for i, v := range items {
		m[strconv.Itoa(i)] = v
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode list: %w", err)
	}
	return data, nil
}

// DecodeSettings reads the stored form. Native JSON arrays are accepted for
// data written by older clients; both display toggles default to true when
// absent.
func DecodeSettings(raw json.RawMessage) (ClinicSettings, error) {
	var doc settingsDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ClinicSettings{}, fmt.Errorf("decode settings: %w", err)
	}

	s := ClinicSettings{
		RoomNames:       doc.RoomNames,
		DoctorNames:     doc.DoctorNames,
		ShowDoctorNames: doc.ShowDoctorNames == nil || *doc.ShowDoctorNames,
		ShowBanner:      doc.ShowBanner == nil || *doc.ShowBanner,
	}
	if s.RoomNames == nil {
		s.RoomNames = map[RoomID]string{}
	}
	if s.DoctorNames == nil {
		s.DoctorNames = map[RoomID]string{}
	}

	var err error
	if s.Notices, err = decodeIndexed(doc.Notices); err != nil {
		return ClinicSettings{}, fmt.Errorf("decode notices: %w", err)
	}
	if s.BannerImages, err = decodeIndexed(doc.BannerImages); err != nil {
		return ClinicSettings{}, fmt.Errorf("decode banner images: %w", err)
	}
	if s.CustomStatuses, err = decodeStatuses(doc.CustomStatuses); err != nil {
		return ClinicSettings{}, fmt.Errorf("decode statuses: %w", err)
	}
	return s, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func isArray(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '['
}

// indexLess orders map keys numerically; non-numeric keys sort after all
// numeric ones, lexically.
func indexLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return ai < bi
	case aerr == nil:
		return true
	case berr == nil:
		return false
	}
	return a < b
}

func decodeIndexed(raw json.RawMessage) ([]string, error) {
	out := []string{}
	if isEmptyJSON(raw) {
		return out, nil
	}
	if isArray(raw) {
		var list []*string
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		for _, v := range list {
			if v != nil {
				out = append(out, *v)
			}
		}
		return out, nil
	}

	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return indexLess(keys[i], keys[j]) })
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out, nil
}

func decodeStatuses(raw json.RawMessage) ([]CustomStatus, error) {
	out := []CustomStatus{}
	if isEmptyJSON(raw) {
		return out, nil
	}
	if isArray(raw) {
		var list []*CustomStatus
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		for _, st := range list {
			if st != nil {
				out = append(out, *st)
			}
		}
		return out, nil
	}

	var m map[string]storedStatus
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	type keyed struct {
		key string
		st  storedStatus
	}
	items := make([]keyed, 0, len(m))
	for k, st := range m {
		if st.ID == "" {
			st.ID = k
		}
		items = append(items, keyed{key: k, st: st})
	}
	sort.Slice(items, func(i, j int) bool {
		pi, pj := items[i].st.Position, items[j].st.Position
		switch {
		case pi != nil && pj != nil && *pi != *pj:
			return *pi < *pj
		case pi != nil && pj == nil:
			return true
		case pi == nil && pj != nil:
			return false
		}
		return items[i].key < items[j].key
	})
	for _, it := range items {
		out = append(out, it.st.CustomStatus)
	}
	return out, nil
}

// DecodePatients reads the patients collection, keyed by id. Entries are
// returned sorted by id with order defaulted from registeredAt.
func DecodePatients(raw json.RawMessage) ([]Patient, error) {
	out := []Patient{}
	if isEmptyJSON(raw) {
		return out, nil
	}

	if isArray(raw) {
		var list []*Patient
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode patients: %w", err)
		}
		for _, p := range list {
			if p != nil {
				out = append(out, p.WithDefaultOrder())
			}
		}
	} else {
		var m map[string]Patient
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode patients: %w", err)
		}
		for k, p := range m {
			if p.ID == "" {
				p.ID = k
			}
			out = append(out, p.WithDefaultOrder())
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
