package app

import (
	"fmt"
	"time"

	"github.com/brensch/lscollection/internal/processor"
)

// Partition statuses shown in the progress table.
const (
	StatusQueued     = "Queued"
	StatusHarvesting = "Harvesting"
	StatusComplete   = "Complete"
	StatusError      = "Error"
)

// --- Progress Messages ---

// ProgressMsg updates the overall progress bar.
type ProgressMsg struct {
	Tag      string // Identifier for the overall task (e.g., "Harvest")
	Current  int64  // Current progress count
	Total    int64  // Total items
	Activity string // Short description of current activity (optional)
}

// PartitionProgressMsg updates the row of one partition.
type PartitionProgressMsg struct {
	Partition   int
	Status      string
	Current     int64 // entries visited
	Total       int64 // entries in the partition
	CurrentFile string
	ElapsedTime time.Duration
	ErrMsg      string // set when Status is StatusError
}

// TaskFinishedMsg signals the completion of the background task.
type TaskFinishedMsg struct {
	Tag       string
	Err       error
	StartTime time.Time
	EndTime   time.Time
	Message   string
}

// GeneralErrorMsg signals an error that is not tied to a partition.
type GeneralErrorMsg struct {
	Err error
}

// --- Message Constructors ---

func NewProgress(tag string, current, total int64, activity string) ProgressMsg {
	return ProgressMsg{Tag: tag, Current: current, Total: total, Activity: activity}
}

// NewPartitionProgress translates a worker progress report.
func NewPartitionProgress(p processor.ProcessProgress) PartitionProgressMsg {
	msg := PartitionProgressMsg{
		Partition:   p.Partition,
		Status:      StatusHarvesting,
		Current:     int64(p.EntriesProcessed),
		Total:       int64(p.TotalEntries),
		CurrentFile: p.CurrentFile,
		ElapsedTime: p.ElapsedTime,
	}
	switch {
	case p.Err != nil:
		msg.Status = StatusError
		msg.ErrMsg = p.Err.Error()
	case p.Complete:
		msg.Status = StatusComplete
		msg.Current = msg.Total
	}
	return msg
}

func NewTaskFinished(tag string, start time.Time, err error, msg string) TaskFinishedMsg {
	return TaskFinishedMsg{
		Tag:       tag,
		StartTime: start,
		EndTime:   time.Now(),
		Err:       err,
		Message:   msg,
	}
}

func NewError(err error) GeneralErrorMsg {
	return GeneralErrorMsg{Err: err}
}

func (e GeneralErrorMsg) Error() string {
	return e.Err.Error()
}
func (t TaskFinishedMsg) Error() string {
	if t.Err != nil {
		return t.Err.Error()
	}
	return ""
}

func (p ProgressMsg) String() string {
	return fmt.Sprintf("Progress %s: %d/%d", p.Tag, p.Current, p.Total)
}
func (pp PartitionProgressMsg) String() string {
	return fmt.Sprintf("PartitionProgress %d: %s", pp.Partition, pp.Status)
}
func (tf TaskFinishedMsg) String() string { return fmt.Sprintf("TaskFinished %s", tf.Tag) }
func (ge GeneralErrorMsg) String() string { return fmt.Sprintf("GeneralError: %s", ge.Err) }
