package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	mw "github.com/digiens-academy/sellibra-backend/internal/api/middleware"
	"github.com/digiens-academy/sellibra-backend/internal/api/response"
	"github.com/digiens-academy/sellibra-backend/internal/task"
	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

// Submitter runs a work order to completion or fails with a mapped error.
type Submitter interface {
	Submit(ctx context.Context, order models.WorkOrder) (*task.Result, error)
}

// Uploads stores multipart files in the scratch directory.
type Uploads interface {
	Save(ctx context.Context, originalName string, r io.Reader) (string, error)
	Remove(paths ...string)
}

// Costs is the token price of each kind of operation.
type Costs struct {
	Design int
	Copy   int
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}

// AI serves the /api/v1/ai endpoints.
type AI struct {
	submitter Submitter
	uploads   Uploads
	costs     Costs
	maxUpload int64
}

func NewAI(s Submitter, u Uploads, costs Costs, maxUpload int64) *AI {
	return &AI{submitter: s, uploads: u, costs: costs, maxUpload: maxUpload}
}

type aiResponse struct {
	Type            models.TaskType       `json:"type"`
	Provider        string                `json:"provider"`
	Image           *imageView            `json:"image,omitempty"`
	Content         *models.ContentResult `json:"content,omitempty"`
	TokensCharged   int                   `json:"tokens_charged"`
	TokensRemaining int                   `json:"tokens_remaining"`
}

type imageView struct {
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

func newAIResponse(res *task.Result) aiResponse {
	out := aiResponse{
		Type:            res.Type,
		Provider:        res.Provider,
		Content:         res.Content,
		TokensCharged:   res.TokensCharged,
		TokensRemaining: res.TokensRemaining,
	}
	if img := res.Image; img != nil {
		v := &imageView{URL: img.URL, RevisedPrompt: img.RevisedPrompt}
		if len(img.Image) > 0 {
			mime := img.MimeType
			if mime == "" {
				mime = "image/png"
			}
			v.URL = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Image)
		}
		out.Image = v
	}
	return out
}

func (h *AI) submit(w http.ResponseWriter, r *http.Request, order models.WorkOrder) {
	res, err := h.submitter.Submit(r.Context(), order)
	if err != nil {
		writeSubmitError(w, r, err)
		return
	}
	response.JSON(w, newAIResponse(res))
}

// RemoveBackground handles POST /api/v1/ai/remove-background (multipart "image").
func (h *AI) RemoveBackground(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	path, _, ok := h.upload(w, r, "image")
	if !ok {
		return
	}
	h.submit(w, r, models.WorkOrder{
		UserID:    userID,
		TokenCost: h.costs.Design,
		Artifacts: []string{path},
		Task:      models.RemoveBackground{ImagePath: path},
	})
}

// TextToImage handles POST /api/v1/ai/text-to-image.
func (h *AI) TextToImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	var req models.TextToImage
	if !decodeJSON(w, r, &req) {
		return
	}
	h.submit(w, r, models.WorkOrder{UserID: userID, TokenCost: h.costs.Design, Task: req})
}

// ImageToImage handles POST /api/v1/ai/image-to-image (multipart "image",
// "prompt", optional "size").
func (h *AI) ImageToImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	path, form, ok := h.upload(w, r, "image")
	if !ok {
		return
	}
	h.submit(w, r, models.WorkOrder{
		UserID:    userID,
		TokenCost: h.costs.Design,
		Artifacts: []string{path},
		Task: models.ImageToImage{
			ImagePath: path,
			Prompt:    formValue(form, "prompt"),
			Size:      formValue(form, "size"),
		},
	})
}

// GenerateMockup handles POST /api/v1/ai/generate-mockup (multipart
// "design", "product_type", "product_color", optional "size").
func (h *AI) GenerateMockup(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	path, form, ok := h.upload(w, r, "design")
	if !ok {
		return
	}
	h.submit(w, r, models.WorkOrder{
		UserID:    userID,
		TokenCost: h.costs.Design,
		Artifacts: []string{path},
		Task: models.GenerateMockup{
			DesignPath:   path,
			ProductType:  formValue(form, "product_type"),
			ProductColor: formValue(form, "product_color"),
			Size:         formValue(form, "size"),
		},
	})
}

// GenerateContent returns the handler for one kind of listing copy.
func (h *AI) GenerateContent(kind models.ContentKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userFrom(w, r)
		if !ok {
			return
		}
		var product models.ProductInfo
		if !decodeJSON(w, r, &product) {
			return
		}
		h.submit(w, r, models.WorkOrder{
			UserID:    userID,
			TokenCost: h.costs.Copy,
			Task:      models.GenerateContent{Kind: kind, Product: product},
		})
	}
}

// upload saves the named multipart file into scratch space. On success the
// caller owns the returned path.
func (h *AI) upload(w http.ResponseWriter, r *http.Request, field string) (string, *multipart.Form, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Upload exceeds the size limit", nil)
			return "", nil, false
		}
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected a multipart form", nil)
		return "", nil, false
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile(field)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", field+" file is required", nil)
		return "", nil, false
	}
	defer file.Close()

	if !imageExts[strings.ToLower(filepath.Ext(hdr.Filename))] {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"Only jpeg, jpg, png, gif and webp images are accepted", nil)
		return "", nil, false
	}

	path, err := h.uploads.Save(r.Context(), hdr.Filename, file)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store upload", nil)
		return "", nil, false
	}
	return path, r.MultipartForm, true
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return false
	}
	return true
}

func userFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
	}
	return id, ok
}
