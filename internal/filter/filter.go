// 包 filter：四级联动筛选（taluka → village → survey → subdiv）的纯状态机
// 约束：每次转换返回新状态，不修改入参；上级变化时下级全部重置并禁用
package filter

import (
	"errors"
	"fmt"
	"strings"
)

// Level：筛选层级
type Level int

const (
	Taluka Level = iota
	Village
	Survey
	Subdiv
)

var levelNames = [...]string{"taluka", "village", "survey", "subdiv"}

func (l Level) String() string {
	if l < Taluka || l > Subdiv {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel：按名称解析层级（不区分大小写）
func ParseLevel(s string) (Level, error) {
	for i, n := range levelNames {
		if strings.EqualFold(strings.TrimSpace(s), n) {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

// Status：层级状态
type Status int

const (
	Disabled Status = iota
	Empty
	Selected
)

func (s Status) String() string {
	switch s {
	case Empty:
		return "empty"
	case Selected:
		return "selected"
	default:
		return "disabled"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Slot：单个层级的下拉框
type Slot struct {
	Status  Status   `json:"status"`
	Value   string   `json:"value,omitempty"`
	Options []string `json:"options"`
}

// Enabled：是否可选
func (s Slot) Enabled() bool { return s.Status != Disabled }

func disabled() Slot { return Slot{Status: Disabled} }

func enabled(options []string) Slot {
	return Slot{Status: Empty, Options: append([]string(nil), options...)}
}

// State：四级筛选状态
type State struct {
	Taluka  Slot `json:"taluka"`
	Village Slot `json:"village"`
	Survey  Slot `json:"survey"`
	Subdiv  Slot `json:"subdiv"`
}

// ErrLevelDisabled：所选层级的上级尚未选定
var ErrLevelDisabled = errors.New("level is disabled")

// Initial：taluka 可选，其余禁用
func Initial(talukas []string) State {
	return State{Taluka: enabled(talukas), Village: disabled(), Survey: disabled(), Subdiv: disabled()}
}

// Slot：按层级取下拉框
func (s State) Slot(l Level) Slot {
	switch l {
	case Taluka:
		return s.Taluka
	case Village:
		return s.Village
	case Survey:
		return s.Survey
	default:
		return s.Subdiv
	}
}

func selectIn(slot Slot, v string) Slot {
	slot.Options = append([]string(nil), slot.Options...)
	if v == "" {
		slot.Status = Empty
		slot.Value = ""
		return slot
	}
	slot.Status = Selected
	slot.Value = v
	return slot
}

// WithTaluka：选中 taluka，village 以给定选项启用（可为空列表），survey / subdiv 禁用
// taluka 为空时 village 同样禁用
func (s State) WithTaluka(v string, villages []string) (State, error) {
	if !s.Taluka.Enabled() {
		return s, fmt.Errorf("%w: %s", ErrLevelDisabled, Taluka)
	}
	n := State{Taluka: selectIn(s.Taluka, v), Village: disabled(), Survey: disabled(), Subdiv: disabled()}
	if v != "" {
		n.Village = enabled(villages)
	}
	return n, nil
}

// WithVillage：选中 village，survey 以给定选项启用，subdiv 禁用
func (s State) WithVillage(v string, surveys []string) (State, error) {
	if s.Taluka.Status != Selected || !s.Village.Enabled() {
		return s, fmt.Errorf("%w: %s", ErrLevelDisabled, Village)
	}
	n := s
	n.Village = selectIn(s.Village, v)
	n.Survey, n.Subdiv = disabled(), disabled()
	if v != "" {
		n.Survey = enabled(surveys)
	}
	return n, nil
}

// WithSurvey：survey 选中或置空；subdiv 以给定选项启用
// 选项在 survey 为空时应为整村的 subdiv
func (s State) WithSurvey(v string, subdivs []string) (State, error) {
	if s.Village.Status != Selected || !s.Survey.Enabled() {
		return s, fmt.Errorf("%w: %s", ErrLevelDisabled, Survey)
	}
	n := s
	n.Survey = selectIn(s.Survey, v)
	n.Subdiv = enabled(subdivs)
	return n, nil
}

// WithSubdiv：subdiv 选中或置空
func (s State) WithSubdiv(v string) (State, error) {
	if !s.Subdiv.Enabled() {
		return s, fmt.Errorf("%w: %s", ErrLevelDisabled, Subdiv)
	}
	n := s
	n.Subdiv = selectIn(s.Subdiv, v)
	return n, nil
}

// Criterion：当前状态对应的检索条件（village / survey / subdiv 的已选值）
func (s State) Criterion() (village, survey, subdiv string) {
	if s.Village.Status == Selected {
		village = s.Village.Value
	}
	if s.Survey.Status == Selected {
		survey = s.Survey.Value
	}
	if s.Subdiv.Status == Selected {
		subdiv = s.Subdiv.Value
	}
	return
}

// Describe：筛选条件的展示文本，如 "Village: Panaji, Survey: 12"
func (s State) Describe() string {
	var parts []string
	for _, l := range []Level{Taluka, Village, Survey, Subdiv} {
		if sl := s.Slot(l); sl.Status == Selected {
			parts = append(parts, strings.ToUpper(l.String()[:1])+l.String()[1:]+": "+sl.Value)
		}
	}
	return strings.Join(parts, ", ")
}
