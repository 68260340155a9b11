package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/audit"
	"github.com/trialiq/console/internal/authz"
	"github.com/trialiq/console/internal/backend"
	"github.com/trialiq/console/internal/notice"
)

const maxRecordBytes = 1 << 20

// directoryResources are the resources whose lists feed the entity directory.
var directoryResources = map[backend.Resource]bool{
	backend.ResourceOrganizations: true,
	backend.ResourceSponsors:      true,
	backend.ResourceSites:         true,
	backend.ResourceProviders:     true,
}

// gatedResource parses the resource path parameter and checks action on its
// module.
func (h *Handler) gatedResource(w http.ResponseWriter, r *http.Request, action authz.Action) (backend.Resource, bool) {
	res, err := backend.ParseResource(chi.URLParam(r, "resource"))
	if err != nil {
		h.respondFailure(w, r, err)
		return "", false
	}
	if !h.authorize(w, r, res.Module(), action) {
		return "", false
	}
	return res, true
}

func readRecord(w http.ResponseWriter, r *http.Request) (backend.Record, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordBytes))
	if err != nil || !json.Valid(body) {
		return nil, apperr.Validation("body", "invalid request body")
	}
	return backend.Record(body), nil
}

// recordChanged audits a write and drops the directory snapshot when the
// resource feeds it.
func (h *Handler) recordChanged(r *http.Request, res backend.Resource, id, op string) {
	h.audit(r, audit.TypeRecordMutated, string(res)+":"+id, map[string]any{"operation": op})
	if directoryResources[res] {
		h.dropSnapshot(r.Context(), GetSessionID(r.Context()))
	}
}

// ListRecords lists a resource
// @Summary List Records
// @Description Gated pass-through list; query parameters are forwarded
// @Tags Records
// @Produce json
// @Security CookieAuth
// @Param resource path string true "trials, sites, sponsors, organizations, patients or providers"
// @Success 200 {array} object
// @Failure 403 {object} ErrorResponse
// @Router /records/{resource} [get]
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	res, ok := h.gatedResource(w, r, authz.ActionView)
	if !ok {
		return
	}
	records, err := backendAPI(r.Context()).ListRecords(r.Context(), res, r.URL.Query())
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// GetRecord returns one record
// @Summary Get Record
// @Tags Records
// @Produce json
// @Security CookieAuth
// @Param resource path string true "Resource"
// @Param id path string true "Record ID"
// @Success 200 {object} object
// @Router /records/{resource}/{id} [get]
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	res, ok := h.gatedResource(w, r, authz.ActionView)
	if !ok {
		return
	}
	rec, err := backendAPI(r.Context()).GetRecord(r.Context(), res, chi.URLParam(r, "id"))
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// CreateRecord creates a record
// @Summary Create Record
// @Tags Records
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param X-CSRF-Token header string true "CSRF token"
// @Param resource path string true "Resource"
// @Success 201 {object} NoticeResponse
// @Router /records/{resource} [post]
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	res, ok := h.gatedResource(w, r, authz.ActionCreate)
	if !ok {
		return
	}
	body, err := readRecord(w, r)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	rec, err := backendAPI(r.Context()).CreateRecord(r.Context(), res, body)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	h.recordChanged(r, res, "", "create")
	respondNotice(w, http.StatusCreated, notice.Success("Created", "Record created"), rec)
}

// UpdateRecord updates a record
// @Summary Update Record
// @Tags Records
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param X-CSRF-Token header string true "CSRF token"
// @Param resource path string true "Resource"
// @Param id path string true "Record ID"
// @Success 200 {object} NoticeResponse
// @Router /records/{resource}/{id} [put]
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	res, ok := h.gatedResource(w, r, authz.ActionEdit)
	if !ok {
		return
	}
	body, err := readRecord(w, r)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := backendAPI(r.Context()).UpdateRecord(r.Context(), res, id, body)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	h.recordChanged(r, res, id, "update")
	respondNotice(w, http.StatusOK, notice.Success("Updated", "Record updated"), rec)
}

// DeleteRecord deletes a record
// @Summary Delete Record
// @Tags Records
// @Produce json
// @Security CookieAuth
// @Param X-CSRF-Token header string true "CSRF token"
// @Param resource path string true "Resource"
// @Param id path string true "Record ID"
// @Success 200 {object} NoticeResponse
// @Failure 409 {object} ErrorResponse
// @Router /records/{resource}/{id} [delete]
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	res, ok := h.gatedResource(w, r, authz.ActionDelete)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := backendAPI(r.Context()).DeleteRecord(r.Context(), res, id); err != nil {
		h.respondFailure(w, r, err)
		return
	}
	h.recordChanged(r, res, id, "delete")
	respondNotice(w, http.StatusOK, notice.Success("Deleted", "Record deleted"), nil)
}

// UploadTrialDocuments forwards a trial document upload
// @Summary Upload Trial Documents
// @Description multipart/form-data: document_names and document_tags as JSON string arrays, files as documents[n]
// @Tags Records
// @Accept mpfd
// @Produce json
// @Security CookieAuth
// @Param X-CSRF-Token header string true "CSRF token"
// @Param trialID path string true "Trial ID"
// @Success 200 {object} NoticeResponse
// @Failure 400 {object} ErrorResponse
// @Router /trials/{trialID}/documents [post]
func (h *Handler) UploadTrialDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := readDocuments(w, r)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	trialID := chi.URLParam(r, "trialID")
	res, err := backendAPI(r.Context()).UploadTrialDocuments(r.Context(), trialID, docs)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	h.audit(r, audit.TypeDocumentsUploaded, "trial:"+trialID, map[string]any{"count": len(docs), "success": res.Success})
	respondNotice(w, http.StatusOK, notice.FromResult(res.Success, res.Message, "Documents"), res)
}

// readDocuments parses the upload form. Names and tags are parallel JSON
// arrays indexed like the documents[n] file parts.
func readDocuments(w http.ResponseWriter, r *http.Request) ([]backend.Document, error) {
	r.Body = http.MaxBytesReader(w, r.Body, 10*backend.MaxDocumentBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, apperr.Validation("documents", "invalid multipart body")
	}
	defer r.MultipartForm.RemoveAll()

	var names, tags []string
	if err := json.Unmarshal([]byte(r.FormValue("document_names")), &names); err != nil {
		return nil, apperr.Validation("document_names", "document_names must be a JSON array of strings")
	}
	if raw := r.FormValue("document_tags"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			return nil, apperr.Validation("document_tags", "document_tags must be a JSON array of strings")
		}
	}

	docs := make([]backend.Document, 0, len(names))
	for i, name := range names {
		field := fmt.Sprintf("documents[%d]", i)
		files := r.MultipartForm.File[field]
		if len(files) == 0 {
			return nil, apperr.Validation(field, "file is missing")
		}
		fh := files[0]
		if fh.Size > backend.MaxDocumentBytes {
			return nil, apperr.Validation(field, "file exceeds %d bytes", backend.MaxDocumentBytes)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, apperr.Validation(field, "file is unreadable")
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, apperr.Validation(field, "file is unreadable")
		}

		doc := backend.Document{
			Name:        name,
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		}
		if i < len(tags) {
			doc.Tag = tags[i]
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
