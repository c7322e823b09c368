package vscheduler

import (
	"fmt"
	"strconv"
	"strings"
)

// Delimiter joins the fields of an encoded task key.
const Delimiter = "."

// MaxDueAt is the largest due time an ordered-set score (a float64) holds exactly.
const MaxDueAt = 1 << 53

// Task is one delayed invocation of MethodName on the object TargetID of type TargetType.
type Task struct {
	DueAt      int64  `json:"due_at"` // unix seconds
	TargetType string `json:"target_type"`
	MethodName string `json:"method_name"`
	TargetID   string `json:"target_id"`
}

// Validate rejects tasks whose fields would not survive Encode/Decode.
func (t Task) Validate() error {
	fields := [...]struct {
		name, v string
	}{
		{"target type", t.TargetType},
		{"method name", t.MethodName},
		{"target id", t.TargetID},
	}
	for _, f := range fields {
		if f.v == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidField, f.name)
		}
		if strings.Contains(f.v, Delimiter) {
			return fmt.Errorf("%w: %s %q contains %q", ErrInvalidField, f.name, f.v, Delimiter)
		}
	}
	if t.DueAt < 0 {
		return fmt.Errorf("%w: due at %d is negative", ErrInvalidField, t.DueAt)
	}
	if t.DueAt > MaxDueAt {
		return fmt.Errorf("%w: due at %d exceeds %d", ErrInvalidField, t.DueAt, int64(MaxDueAt))
	}
	return nil
}

// Key encodes the task as "<dueAt>.<targetType>.<methodName>.<targetID>".
// The key is both the ordered-set member and the only persisted form of the task.
func (t Task) Key() string {
	return strings.Join([]string{
		strconv.FormatInt(t.DueAt, 10),
		t.TargetType,
		t.MethodName,
		t.TargetID,
	}, Delimiter)
}

func (t Task) String() string {
	return fmt.Sprintf("%s#%s(%s)@%d", t.TargetType, t.MethodName, t.TargetID, t.DueAt)
}

// DecodeKey parses a key produced by Task.Key.
func DecodeKey(key string) (Task, error) {
	parts := strings.Split(key, Delimiter)
	if len(parts) != 4 {
		return Task{}, &MalformedEntryError{Key: key, Reason: fmt.Sprintf("want 4 fields, got %d", len(parts))}
	}

	dueAt, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Task{}, &MalformedEntryError{Key: key, Reason: fmt.Sprintf("bad due at %q", parts[0])}
	}

	t := Task{
		DueAt:      dueAt,
		TargetType: parts[1],
		MethodName: parts[2],
		TargetID:   parts[3],
	}
	if err := t.Validate(); err != nil {
		return Task{}, &MalformedEntryError{Key: key, Reason: err.Error()}
	}
	return t, nil
}
