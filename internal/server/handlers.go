package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/menta2k/logo-placer/pkg/placement"
	"github.com/menta2k/logo-placer/pkg/types"
)

// Form field names sent by the browser UI
const (
	fieldBlank       = "blankimg"
	fieldLogo        = "logoimg"
	fieldUseCustom   = "useCustom"
	fieldCustomTop   = "customTop"
	fieldCustomLeft  = "customLeft"
	fieldCustomWidth = "customWidth"
	fieldCustomSkew  = "customSkew"
	fieldLogoSelect  = "logoSelect"
	fieldProduction  = "production"
	fieldItemClass   = "itemClass"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"categories": s.placer.Catalog().Names(),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	index := filepath.Join(s.config.StaticDir, "index.html")
	http.ServeFile(w, r, index)
}

func (s *Server) handleQueryLogos(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if s.store != nil {
		names = append(names, s.store.LogoNames()...)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"names": names})
}

func (s *Server) handlePlaceLogo(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, s.logger)

	maxBytes := int64(s.config.MaxUploadMB) << 20
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: failed to parse form: %w", types.ErrInvalidInput, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	blank, blankName, err := s.readUpload(r, fieldBlank)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if blank == nil {
		s.writeError(w, r, fmt.Errorf("%w: missing %s file", types.ErrInvalidInput, fieldBlank))
		return
	}

	req := placement.Request{
		Category:    strings.TrimSpace(r.FormValue(fieldItemClass)),
		UseCustom:   r.FormValue(fieldUseCustom) == "true",
		CustomTop:   r.FormValue(fieldCustomTop),
		CustomLeft:  r.FormValue(fieldCustomLeft),
		CustomWidth: r.FormValue(fieldCustomWidth),
		CustomSkew:  r.FormValue(fieldCustomSkew),
		Logo:        r.FormValue(fieldLogoSelect),
		Production:  r.FormValue(fieldProduction),
		BlankImage:  blankName,
	}

	logo, logoName, err := s.readUpload(r, fieldLogo)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if logo != nil {
		req.Upload = &placement.Upload{Name: logoName, Image: logo}
	} else if req.Logo == "" {
		s.writeError(w, r, fmt.Errorf("%w: either %s or %s is required", types.ErrInvalidInput, fieldLogo, fieldLogoSelect))
		return
	}

	result, err := s.placer.Place(r.Context(), blank, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	logger.WithFields(log.Fields{
		"category": result.Category,
		"logo":     result.LogoAsset,
		"custom":   req.UseCustom,
	}).Info("Placement resolved")
	writeJSON(w, http.StatusOK, result)
}

// readUpload decodes and stores one uploaded image. A missing file, or the
// literal "undefined" the UI sends for an empty input, yields a nil image.
func (s *Server) readUpload(r *http.Request, field string) (image.Image, string, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", types.ErrInvalidInput, field, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to read %s: %v", types.ErrInvalidInput, field, err)
	}

	img, info, err := s.images.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%s %q: %w", field, header.Filename, err)
	}

	name := header.Filename
	if s.store != nil {
		save := s.store.SaveUpload
		if field == fieldBlank {
			save = s.store.SaveBlank
		}
		name, err = save(header.Filename, bytes.NewReader(data))
		if err != nil {
			return nil, "", err
		}
	}

	requestLogger(r, s.logger).WithFields(log.Fields{
		"field":  field,
		"file":   name,
		"format": info.Format,
		"width":  info.Width,
		"height": info.Height,
	}).Debug("Upload accepted")
	return img, name, nil
}

// statusFor maps placement errors to HTTP status codes
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, types.ErrUnknownLogo):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidInput):
		return http.StatusBadRequest
	case types.IsClientError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := requestLogger(r, s.logger).WithError(err)
	if status >= 500 {
		logger.Error("Request failed")
	} else {
		logger.Warn("Request rejected")
	}

	msg := err.Error()
	if status >= 500 {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg, RequestID: requestID(r)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
