package domain

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerTypeCron is the only trigger type created for konnectors.
const TriggerTypeCron = "@cron"

// WorkerKonnector is the worker type of konnector triggers and jobs.
const WorkerKonnector = "konnector"

// DefaultTriggerTimeInterval is the default hour window of a trigger.
var DefaultTriggerTimeInterval = []int{0, 5}

// TriggerMessage binds a trigger or job to a konnector and an account.
type TriggerMessage struct {
	Konnector    string `json:"konnector"`
	Account      string `json:"account"`
	FolderToSave string `json:"folder_to_save,omitempty"`
}

// TriggerState is the execution summary maintained by the stack.
type TriggerState struct {
	Status        JobState   `json:"status,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastExecution *time.Time `json:"last_execution,omitempty"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
}

// Trigger schedules the periodic execution of a konnector for an account.
type Trigger struct {
	DocMeta

	// TriggerType is always TriggerTypeCron
	TriggerType  string          `json:"type"`
	Arguments    string          `json:"arguments"`
	WorkerType   string          `json:"worker"`
	Message      *TriggerMessage `json:"message,omitempty"`
	CurrentState *TriggerState   `json:"current_state,omitempty"`
}

// KonnectorSlug returns the konnector referenced by the trigger message.
func (t *Trigger) KonnectorSlug() string {
	if t == nil || t.Message == nil {
		return ""
	}
	return t.Message.Konnector
}

// AccountID returns the account referenced by the trigger message.
func (t *Trigger) AccountID() string {
	if t == nil || t.Message == nil {
		return ""
	}
	return t.Message.Account
}

// Validate checks the fields every connection action relies on.
func (t *Trigger) Validate() error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("%w: missing trigger id", ErrMalformedAction)
	}
	if t.Message == nil || t.Message.Konnector == "" || t.Message.Account == "" {
		return fmt.Errorf("%w: malformed trigger message", ErrMalformedAction)
	}
	return nil
}

// Frequency of a trigger schedule.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Schedule is the recurrence policy of a trigger.
type Schedule struct {
	Frequency Frequency    `json:"frequency"`
	Day       time.Weekday `json:"day"`
	Hours     int          `json:"hours"`
	Minutes   int          `json:"minutes"`
}

// CronSpec renders the schedule as a cron expression with a seconds field.
func (s Schedule) CronSpec() string {
	if s.Frequency == FrequencyDaily {
		return fmt.Sprintf("0 %d %d * * *", s.Minutes, s.Hours)
	}
	return fmt.Sprintf("0 %d %d * * %d", s.Minutes, s.Hours, int(s.Day))
}

// WeeklySchedule picks a random time of day within interval on the given weekday.
// intn must behave like rand.Intn.
func WeeklySchedule(day time.Weekday, interval []int, intn func(int) int) Schedule {
	hours, minutes := RandomDayTime(interval, intn)
	return Schedule{Frequency: FrequencyWeekly, Day: day, Hours: hours, Minutes: minutes}
}

// RandomDayTime returns a random hour in [start, end) and a random minute.
// An invalid interval falls back to DefaultTriggerTimeInterval.
func RandomDayTime(interval []int, intn func(int) int) (hours, minutes int) {
	if len(interval) != 2 || interval[0] < 0 || interval[1] > 24 || interval[0] >= interval[1] {
		interval = DefaultTriggerTimeInterval
	}
	start, end := interval[0], interval[1]
	return start + intn(end-start), intn(60)
}

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a trigger's arguments.
func ParseCron(spec string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: cron %q: %v", ErrInvalidInput, spec, err)
	}
	return sched, nil
}

// NextRun computes when the trigger fires after t.
func (t *Trigger) NextRun(after time.Time) (time.Time, error) {
	sched, err := ParseCron(t.Arguments)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

// NewKonnectorTrigger builds the cron trigger for an account.
func NewKonnectorTrigger(slug, accountID, folderID string, schedule Schedule) *Trigger {
	return &Trigger{
		TriggerType: TriggerTypeCron,
		Arguments:   schedule.CronSpec(),
		WorkerType:  WorkerKonnector,
		Message: &TriggerMessage{
			Konnector:    slug,
			Account:      accountID,
			FolderToSave: folderID,
		},
	}
}
