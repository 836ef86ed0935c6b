package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TaskType tags each variant of the work-order union.
type TaskType string

const (
	TaskRemoveBackground TaskType = "remove_background"
	TaskTextToImage      TaskType = "text_to_image"
	TaskImageToImage     TaskType = "image_to_image"
	TaskGenerateContent  TaskType = "generate_content"
	TaskGenerateMockup   TaskType = "generate_mockup"
)

// Queue categories. Each task type is processed by exactly one of them.
const (
	QueueRemoveBackground = "remove-background"
	QueueTextToImage      = "text-to-image"
	QueueImageToImage     = "image-to-image"
	QueueGenerateContent  = "generate-content"
	QueueGenerateMockup   = "generate-mockup"
)

// Queues lists every queue category.
var Queues = []string{
	QueueRemoveBackground,
	QueueTextToImage,
	QueueImageToImage,
	QueueGenerateContent,
	QueueGenerateMockup,
}

var queueByTask = map[TaskType]string{
	TaskRemoveBackground: QueueRemoveBackground,
	TaskTextToImage:      QueueTextToImage,
	TaskImageToImage:     QueueImageToImage,
	TaskGenerateContent:  QueueGenerateContent,
	TaskGenerateMockup:   QueueGenerateMockup,
}

// QueueFor returns the queue category that processes the given task type.
func QueueFor(t TaskType) string {
	return queueByTask[t]
}

// ContentKind selects which piece of listing copy GenerateContent produces.
type ContentKind string

const (
	ContentTags        ContentKind = "tags"
	ContentTitle       ContentKind = "title"
	ContentDescription ContentKind = "description"
)

var ErrInvalidTask = errors.New("invalid task")

// Task is one variant of the work-order union.
type Task interface {
	Type() TaskType
	Validate() error
}

type RemoveBackground struct {
	ImagePath string `json:"image_path"`
}

func (RemoveBackground) Type() TaskType { return TaskRemoveBackground }

func (t RemoveBackground) Validate() error {
	return requireField("image_path", t.ImagePath)
}

type TextToImage struct {
	Prompt  string `json:"prompt"`
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
	Style   string `json:"style,omitempty"`
}

func (TextToImage) Type() TaskType { return TaskTextToImage }

func (t TextToImage) Validate() error {
	return requireField("prompt", t.Prompt)
}

type ImageToImage struct {
	ImagePath string `json:"image_path"`
	Prompt    string `json:"prompt"`
	Size      string `json:"size,omitempty"`
}

func (ImageToImage) Type() TaskType { return TaskImageToImage }

func (t ImageToImage) Validate() error {
	if err := requireField("image_path", t.ImagePath); err != nil {
		return err
	}
	return requireField("prompt", t.Prompt)
}

type GenerateContent struct {
	Kind    ContentKind `json:"kind"`
	Product ProductInfo `json:"product"`
}

func (GenerateContent) Type() TaskType { return TaskGenerateContent }

func (t GenerateContent) Validate() error {
	switch t.Kind {
	case ContentTags, ContentTitle, ContentDescription:
	default:
		return fmt.Errorf("%w: unknown content kind %q", ErrInvalidTask, t.Kind)
	}
	return requireField("product_name", t.Product.Name)
}

type GenerateMockup struct {
	DesignPath   string `json:"design_path"`
	ProductType  string `json:"product_type"`
	ProductColor string `json:"product_color"`
	Size         string `json:"size,omitempty"`
}

func (GenerateMockup) Type() TaskType { return TaskGenerateMockup }

func (t GenerateMockup) Validate() error {
	if err := requireField("design_path", t.DesignPath); err != nil {
		return err
	}
	if err := requireField("product_type", t.ProductType); err != nil {
		return err
	}
	return requireField("product_color", t.ProductColor)
}

func requireField(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidTask, name)
	}
	return nil
}

// WorkOrder is the payload of every queued job: who pays, how much, which
// scratch files belong to the job, and the typed task itself.
type WorkOrder struct {
	UserID    uuid.UUID
	TokenCost int
	Artifacts []string
	Task      Task
}

// Validate checks the order and its task before it is enqueued or executed.
func (o WorkOrder) Validate() error {
	if o.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", ErrInvalidTask)
	}
	if o.TokenCost <= 0 {
		return fmt.Errorf("%w: token_cost must be positive", ErrInvalidTask)
	}
	if o.Task == nil {
		return fmt.Errorf("%w: task is required", ErrInvalidTask)
	}
	if QueueFor(o.Task.Type()) == "" {
		return fmt.Errorf("%w: unknown task type %q", ErrInvalidTask, o.Task.Type())
	}
	return o.Task.Validate()
}

type workOrderJSON struct {
	UserID    uuid.UUID       `json:"user_id"`
	TokenCost int             `json:"token_cost"`
	Artifacts []string        `json:"artifacts,omitempty"`
	Type      TaskType        `json:"type"`
	Task      json.RawMessage `json:"task"`
}

func (o WorkOrder) MarshalJSON() ([]byte, error) {
	if o.Task == nil {
		return nil, fmt.Errorf("%w: task is required", ErrInvalidTask)
	}
	raw, err := json.Marshal(o.Task)
	if err != nil {
		return nil, err
	}
	return json.Marshal(workOrderJSON{
		UserID:    o.UserID,
		TokenCost: o.TokenCost,
		Artifacts: o.Artifacts,
		Type:      o.Task.Type(),
		Task:      raw,
	})
}

func (o *WorkOrder) UnmarshalJSON(data []byte) error {
	var w workOrderJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	task, err := decodeTask(w.Type, w.Task)
	if err != nil {
		return err
	}
	*o = WorkOrder{
		UserID:    w.UserID,
		TokenCost: w.TokenCost,
		Artifacts: w.Artifacts,
		Task:      task,
	}
	return nil
}

func decodeTask(t TaskType, raw json.RawMessage) (Task, error) {
	switch t {
	case TaskRemoveBackground:
		var v RemoveBackground
		err := unmarshalTask(raw, &v)
		return v, err
	case TaskTextToImage:
		var v TextToImage
		err := unmarshalTask(raw, &v)
		return v, err
	case TaskImageToImage:
		var v ImageToImage
		err := unmarshalTask(raw, &v)
		return v, err
	case TaskGenerateContent:
		var v GenerateContent
		err := unmarshalTask(raw, &v)
		return v, err
	case TaskGenerateMockup:
		var v GenerateMockup
		err := unmarshalTask(raw, &v)
		return v, err
	default:
		return nil, fmt.Errorf("%w: unknown task type %q", ErrInvalidTask, t)
	}
}

func unmarshalTask(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding task: %w", err)
	}
	return nil
}
