// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type (
	// TaskDuration is a nominal wall-clock estimate carried in the
	// "HH:MM:SS.mmm" form the array firmware reports.
	TaskDuration time.Duration

	// UpgradeMessage is one timestamped lifecycle event. The message log is
	// append-only; entries are never reordered or truncated.
	UpgradeMessage struct {
		Timestamp time.Time `json:"timestamp"`
		Message   string    `json:"message"`
		Severity  int       `json:"severity"`
	}

	// UpgradeTask is one unit of work within a session. Caption is stable
	// within the ledger but not globally unique.
	UpgradeTask struct {
		Status        TaskStatus   `json:"status"`
		Type          TaskType     `json:"type"`
		Caption       string       `json:"caption"`
		CreationTime  time.Time    `json:"creationTime"`
		EstRemainTime TaskDuration `json:"estRemainTime"`
		StartTime     *time.Time   `json:"startTime,omitempty"`
		EndTime       *time.Time   `json:"endTime,omitempty"`
	}

	// UpgradeSession is one upgrade attempt. It is mutated by the runner
	// while active and by pause/resume; once terminal it only round-trips
	// through persistence.
	UpgradeSession struct {
		ID              string           `json:"id"`
		Type            SessionType      `json:"type"`
		CandidateID     string           `json:"candidate"`
		Caption         string           `json:"caption"`
		Status          UpgradeStatus    `json:"status"`
		Messages        []UpgradeMessage `json:"messages"`
		CreationTime    time.Time        `json:"creationTime"`
		StartTime       *time.Time       `json:"startTime,omitempty"`
		EndTime         *time.Time       `json:"endTime,omitempty"`
		ElapsedTime     string           `json:"elapsedTime"`
		PercentComplete int              `json:"percentComplete"`
		Tasks           []UpgradeTask    `json:"tasks"`
	}

	// CandidateSoftwareVersion is the uploaded artifact an upgrade applies.
	// At most one candidate exists at a time; a new upload replaces it.
	CandidateSoftwareVersion struct {
		ID                   string    `json:"id"`
		Version              string    `json:"version"`
		FullVersion          string    `json:"fullVersion"`
		Revision             int       `json:"revision"`
		ReleaseDate          time.Time `json:"releaseDate"`
		Type                 string    `json:"type"`
		RebootRequired       bool      `json:"rebootRequired"`
		CanPauseBeforeReboot bool      `json:"canPauseBeforeReboot"`
	}

	// UploadedFile records metadata of an uploaded package; the mock never
	// stores the payload itself.
	UploadedFile struct {
		ID          string    `json:"id"`
		Filename    string    `json:"filename"`
		ContentType string    `json:"content_type"`
		Size        int64     `json:"size"`
		UploadTime  time.Time `json:"upload_time"`
	}
)

// Clone returns a deep copy so callers never observe a torn read of a
// session record mutated concurrently by the runner.
func (s *UpgradeSession) Clone() *UpgradeSession {
	c := *s
	c.Messages = append([]UpgradeMessage(nil), s.Messages...)
	c.Tasks = make([]UpgradeTask, len(s.Tasks))
	for i, t := range s.Tasks {
		c.Tasks[i] = t
		if t.StartTime != nil {
			st := *t.StartTime
			c.Tasks[i].StartTime = &st
		}
		if t.EndTime != nil {
			et := *t.EndTime
			c.Tasks[i].EndTime = &et
		}
	}
	if s.StartTime != nil {
		st := *s.StartTime
		c.StartTime = &st
	}
	if s.EndTime != nil {
		et := *s.EndTime
		c.EndTime = &et
	}
	return &c
}

// AppendMessage appends a timestamped lifecycle message. Callers holding
// the record via Store.Update/Apply get the append observed atomically with
// their other mutations.
func (s *UpgradeSession) AppendMessage(text string, severity int) {
	s.Messages = append(s.Messages, UpgradeMessage{
		Timestamp: time.Now(),
		Message:   text,
		Severity:  severity,
	})
}

// CurrentTaskIndex returns the index of the task in the given status, or -1.
func (s *UpgradeSession) CurrentTaskIndex(status TaskStatus) int {
	for i := range s.Tasks {
		if s.Tasks[i].Status == status {
			return i
		}
	}
	return -1
}

func (d TaskDuration) Duration() time.Duration {
	return time.Duration(d)
}

// String renders the duration as HH:MM:SS.mmm.
func (d TaskDuration) String() string {
	dur := time.Duration(d)
	h := dur / time.Hour
	m := (dur % time.Hour) / time.Minute
	s := (dur % time.Minute) / time.Second
	ms := (dur % time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// ParseTaskDuration parses the HH:MM:SS[.mmm] form.
func ParseTaskDuration(v string) (TaskDuration, error) {
	base, frac, _ := strings.Cut(v, ".")
	parts := strings.Split(base, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid task duration %q", v)
	}
	var h, m, s int
	if _, err := fmt.Sscanf(base, "%d:%d:%d", &h, &m, &s); err != nil {
		return 0, fmt.Errorf("invalid task duration %q: %w", v, err)
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
	if frac != "" {
		var ms int
		if _, err := fmt.Sscanf(frac, "%d", &ms); err != nil {
			return 0, fmt.Errorf("invalid task duration %q: %w", v, err)
		}
		d += time.Duration(ms) * time.Millisecond
	}
	return TaskDuration(d), nil
}

func (d TaskDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *TaskDuration) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := ParseTaskDuration(v)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// FormatElapsed renders a completed session's duration in the ISO 8601
// form the array firmware uses, e.g. "PT2H30M15S".
func FormatElapsed(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("PT%dH%dM%dS", total/3600, (total%3600)/60, total%60)
}
