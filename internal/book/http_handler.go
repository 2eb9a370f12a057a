package book

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mybooks/internal/httpx"

	"go.uber.org/zap"
)

const CodeDuplicate = "DUPLICATE_BOOK"

const duplicateMessage = "A book with this title and author already exists for this user."

type HTTPHandler struct {
	service *Service
	log     *zap.Logger
}

func NewHTTPHandler(service *Service, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{service: service, log: logger}
}

// flag is a boolean that also accepts the strings "true" and "false".
type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flag(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := parseFlag(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

func parseFlag(s string) (flag, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("must be \"true\" or \"false\", got %q", s)
}

type createRequest struct {
	Title         *string `json:"title" validate:"required,notblank,max=255"`
	Author        *string `json:"author" validate:"required,notblank,max=255"`
	Description   *string `json:"description" validate:"omitnil,max=1024"`
	Status        *string `json:"status" validate:"omitempty,book_status"`
	CoverImageURL *string `json:"coverImageUrl" validate:"omitempty,max=2048,http_url"`
	ReturnCreated *flag   `json:"returnCreated"`
}

type updateRequest struct {
	UpdatedAt     *string `json:"updatedAt" validate:"required,notblank"`
	Title         *string `json:"title" validate:"omitnil,notblank,max=255"`
	Author        *string `json:"author" validate:"omitnil,notblank,max=255"`
	Description   *string `json:"description" validate:"omitnil,max=1024"`
	Status        *string `json:"status" validate:"omitnil,book_status"`
	CoverImageURL *string `json:"coverImageUrl" validate:"omitempty,max=2048,http_url"`
	ReturnCreated *flag   `json:"returnCreated"`
	Method        string  `json:"_method"`
}

// List handles GET /books?status=&cursor=.
func (h *HTTPHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := ParseStatus(q.Get("status"))
	if err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, httpx.CodeBadRequest, err.Error(), nil)
		return
	}

	page, err := h.service.List(r.Context(), httpx.UserIDFrom(r), status, q.Get("cursor"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, http.StatusOK, page)
}

// Get handles GET /books/{id}.
func (h *HTTPHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	b, err := h.service.Get(r.Context(), httpx.UserIDFrom(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, http.StatusOK, b)
}

// Create handles POST /books from a JSON or form body.
func (h *HTTPHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	form, isForm, err := readBody(r, &req)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	if isForm {
		req = createRequest{
			Title:         formValue(form, "title"),
			Author:        formValue(form, "author"),
			Description:   formValue(form, "description"),
			Status:        formValue(form, "status"),
			CoverImageURL: formValue(form, "coverImageUrl"),
		}
		if req.ReturnCreated, err = formFlag(form, "returnCreated"); err != nil {
			writeFieldError(w, r, "returnCreated", err.Error())
			return
		}
	}
	if details := httpx.ValidateStruct(req); details != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, httpx.CodeValidation, "invalid input", details)
		return
	}

	in := NewBook{
		Title:         *req.Title,
		Author:        *req.Author,
		Description:   req.Description,
		CoverImageURL: req.CoverImageURL,
	}
	if req.Status != nil && *req.Status != "" {
		// Already checked by the book_status tag.
		in.Status, _ = ParseStatus(*req.Status)
	}

	b, err := h.service.Create(r.Context(), httpx.UserIDFrom(r), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !wantsJSON(req.ReturnCreated, isForm) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	httpx.JSONSuccess(w, r, http.StatusCreated, b)
}

// Update handles PATCH /books/{id} and POST /books/{id}. A POST carrying
// _method=DELETE is treated as a delete.
func (h *HTTPHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}

	var req updateRequest
	form, isForm, err := readBody(r, &req)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	if isForm {
		req = updateRequest{
			UpdatedAt:     formValue(form, "updatedAt"),
			Title:         formValue(form, "title"),
			Author:        formValue(form, "author"),
			Description:   formValue(form, "description"),
			Status:        formValue(form, "status"),
			CoverImageURL: formValue(form, "coverImageUrl"),
			Method:        form.Get("_method"),
		}
		if req.ReturnCreated, err = formFlag(form, "returnCreated"); err != nil {
			writeFieldError(w, r, "returnCreated", err.Error())
			return
		}
	}

	if r.Method == http.MethodPost && strings.EqualFold(req.Method, http.MethodDelete) {
		h.delete(w, r, id, req.UpdatedAt, wantsJSON(req.ReturnCreated, isForm))
		return
	}

	if details := httpx.ValidateStruct(req); details != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, httpx.CodeValidation, "invalid input", details)
		return
	}
	expected, err := parseUpdatedAt(*req.UpdatedAt)
	if err != nil {
		writeFieldError(w, r, "updatedAt", err.Error())
		return
	}

	p := Patch{
		Title:         req.Title,
		Author:        req.Author,
		Description:   req.Description,
		CoverImageURL: req.CoverImageURL,
	}
	if req.Status != nil {
		s, _ := ParseStatus(*req.Status)
		p.Status = &s
	}

	b, err := h.service.Update(r.Context(), httpx.UserIDFrom(r), id, expected, p)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !wantsJSON(req.ReturnCreated, isForm) {
		http.Redirect(w, r, "/book/"+strconv.FormatInt(b.ID, 10), http.StatusSeeOther)
		return
	}
	httpx.JSONSuccess(w, r, http.StatusOK, b)
}

// Delete handles DELETE /books/{id}. updatedAt comes from the body or the query string.
func (h *HTTPHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}

	var req updateRequest
	form, isForm, err := readBody(r, &req)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	if isForm {
		req.UpdatedAt = formValue(form, "updatedAt")
		if req.ReturnCreated, err = formFlag(form, "returnCreated"); err != nil {
			writeFieldError(w, r, "returnCreated", err.Error())
			return
		}
	}

	q := r.URL.Query()
	if req.UpdatedAt == nil && q.Has("updatedAt") {
		v := q.Get("updatedAt")
		req.UpdatedAt = &v
	}
	if req.ReturnCreated == nil && q.Has("returnCreated") {
		f, err := parseFlag(q.Get("returnCreated"))
		if err != nil {
			writeFieldError(w, r, "returnCreated", err.Error())
			return
		}
		req.ReturnCreated = &f
	}

	h.delete(w, r, id, req.UpdatedAt, wantsJSON(req.ReturnCreated, isForm))
}

func (h *HTTPHandler) delete(w http.ResponseWriter, r *http.Request, id int64, updatedAt *string, asJSON bool) {
	if updatedAt == nil || strings.TrimSpace(*updatedAt) == "" {
		writeFieldError(w, r, "updatedAt", "updatedAt is required")
		return
	}
	expected, err := parseUpdatedAt(*updatedAt)
	if err != nil {
		writeFieldError(w, r, "updatedAt", err.Error())
		return
	}

	if err := h.service.Delete(r.Context(), httpx.UserIDFrom(r), id, expected); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !asJSON {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	httpx.JSONSuccessNoContent(w)
}

func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		details := make([]httpx.ErrorDetail, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			details = append(details, httpx.ErrorDetail{Field: f.Field, Message: f.Message})
		}
		httpx.JSONError(w, r, http.StatusBadRequest, httpx.CodeValidation, "invalid input", details)
	case errors.Is(err, ErrInvalidCursor), errors.Is(err, ErrInvalidStatus):
		httpx.JSONError(w, r, http.StatusBadRequest, httpx.CodeBadRequest, err.Error(), nil)
	case errors.Is(err, ErrDuplicate):
		httpx.JSONError(w, r, http.StatusBadRequest, CodeDuplicate, duplicateMessage, nil)
	case errors.Is(err, ErrConflict):
		httpx.JSONError(w, r, http.StatusConflict, httpx.CodeConflict,
			"The book was changed or removed since you loaded it. Reload it and try again.", nil)
	case errors.Is(err, ErrNotFound):
		httpx.JSONError(w, r, http.StatusNotFound, httpx.CodeNotFound, "book not found", nil)
	default:
		h.log.Error("book request failed",
			zap.String("request_id", httpx.RequestIDFrom(r)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		httpx.JSONError(w, r, http.StatusInternalServerError, httpx.CodeInternal, "An internal error occurred", nil)
	}
}

func bookID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.JSONError(w, r, http.StatusBadRequest, httpx.CodeBadRequest, "ID is not valid", nil)
		return 0, false
	}
	return id, true
}

// readBody decodes a JSON body into dst, or parses a form body and returns its
// values. An empty body leaves dst untouched.
func readBody(r *http.Request, dst any) (url.Values, bool, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, true, err
		}
		return r.PostForm, true, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return nil, true, err
		}
		return r.PostForm, true, nil
	}

	if r.Body == nil {
		return nil, false, nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	return nil, false, nil
}

func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpx.JSONError(w, r, http.StatusRequestEntityTooLarge, httpx.CodeTooLarge, "request body too large", nil)
		return
	}
	httpx.JSONError(w, r, http.StatusBadRequest, httpx.CodeBadRequest, "invalid request body", nil)
}

func writeFieldError(w http.ResponseWriter, r *http.Request, field, message string) {
	httpx.JSONError(w, r, http.StatusBadRequest, httpx.CodeValidation, "invalid input",
		[]httpx.ErrorDetail{{Field: field, Message: message}})
}

func formValue(form url.Values, key string) *string {
	if !form.Has(key) {
		return nil
	}
	v := form.Get(key)
	return &v
}

func formFlag(form url.Values, key string) (*flag, error) {
	if !form.Has(key) {
		return nil, nil
	}
	f, err := parseFlag(form.Get(key))
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// wantsJSON resolves returnCreated: JSON clients get JSON unless they opt out,
// form posts get a redirect unless they opt in.
func wantsJSON(returnCreated *flag, isForm bool) bool {
	if returnCreated != nil {
		return bool(*returnCreated)
	}
	return !isForm
}

func parseUpdatedAt(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, errors.New("updatedAt must be an RFC 3339 timestamp")
	}
	return t, nil
}
