package bill

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
)

const maxUploadSize = int64(50 << 20) // 50MB

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeJSONError writes {"error": message}
func writeJSONError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps service errors onto status codes
func writeServiceError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, ErrNotFound) {
		writeJSONError(w, notFound, http.StatusNotFound)
		return
	}
	slog.Error("Request failed", "error", err)
	writeJSONError(w, "Internal server error: "+err.Error(), http.StatusInternalServerError)
}

// handleRoot is the liveness probe
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "active",
		"service": "Bill Splitter API",
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.ServeHTTP(w, r)
}

// handleUploadBill accepts a receipt image and schedules extraction
func (s *Server) handleUploadBill(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeJSONError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		writeJSONError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		writeJSONError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSONError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}
	if len(data) == 0 {
		writeJSONError(w, "Uploaded file is empty", http.StatusBadRequest)
		return
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename)

	bill, err := s.service.Ingest(r.Context(), header.Filename, data, contentType, r.FormValue("chat_id"))
	if err != nil {
		slog.Error("Error ingesting receipt", "filename", header.Filename, "error", err)
		writeJSONError(w, "Failed to upload receipt: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"status":  "success",
		"bill_id": bill.ID,
		"message": "Receipt uploaded. AI is processing in the background.",
	})
}

// detectContentType prefers the part header and falls back to the extension
func detectContentType(header, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

type claimRequest struct {
	ItemID   string `json:"item_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// handleToggleClaim joins or leaves an item
func (s *Server) handleToggleClaim(w http.ResponseWriter, r *http.Request) {
	billID := r.PathValue("bill_id")

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ItemID == "" || req.UserID == "" {
		writeJSONError(w, "item_id and user_id are required", http.StatusBadRequest)
		return
	}

	result, err := s.service.ToggleClaim(r.Context(), billID, req.ItemID, req.UserID, req.UserName)
	if err != nil {
		writeServiceError(w, err, "Item not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "updated",
		"new_count": result.Count,
	})
}

// handleListBills returns all bills
func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	bills, err := s.service.ListBills(r.Context())
	if err != nil {
		writeServiceError(w, err, "Bills not found")
		return
	}
	if bills == nil {
		bills = []*Bill{}
	}
	writeJSON(w, http.StatusOK, bills)
}

// handleGetBill returns a bill with its items and claims
func (s *Server) handleGetBill(w http.ResponseWriter, r *http.Request) {
	details, err := s.service.GetBill(r.Context(), r.PathValue("bill_id"))
	if err != nil {
		writeServiceError(w, err, "Bill not found")
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// handleGetBillImage returns the stored receipt image
func (s *Server) handleGetBillImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetBillImage(r.Context(), r.PathValue("bill_id"))
	if err != nil {
		slog.Warn("Error getting bill image", "bill_id", r.PathValue("bill_id"), "error", err)
		writeJSONError(w, "Image not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleGetShares returns each participant's subtotal
func (s *Server) handleGetShares(w http.ResponseWriter, r *http.Request) {
	shares, err := s.service.Shares(r.Context(), r.PathValue("bill_id"))
	if err != nil {
		writeServiceError(w, err, "Bill not found")
		return
	}
	writeJSON(w, http.StatusOK, shares)
}

// handleGetFile serves a stored image under its public URL
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.GetFile(r.PathValue("key"))
	if err != nil {
		writeJSONError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}
