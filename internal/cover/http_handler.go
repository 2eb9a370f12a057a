package cover

import (
	"errors"
	"net/http"

	"mybooks/internal/httpx"

	"go.uber.org/zap"
)

type HTTPHandler struct {
	service *UploadService
	log     *zap.Logger
}

func NewHTTPHandler(service *UploadService, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{service: service, log: logger}
}

// UploadURL handles POST /covers/upload-url.
func (h *HTTPHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	up, err := h.service.NewUpload(r.Context())
	if err != nil {
		if errors.Is(err, ErrStoreDisabled) {
			httpx.JSONError(w, r, http.StatusServiceUnavailable, httpx.CodeUnavailable, err.Error(), nil)
			return
		}
		h.log.Error("presign cover upload",
			zap.String("request_id", httpx.RequestIDFrom(r)),
			zap.String("user_id", httpx.UserIDFrom(r)),
			zap.Error(err))
		httpx.JSONError(w, r, http.StatusInternalServerError, httpx.CodeInternal, "An internal error occurred", nil)
		return
	}
	httpx.JSONSuccess(w, r, http.StatusOK, up)
}
