// Copyright 2026 The TrialIQ Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	"github.com/trialiq/console/internal/apperr"
)

// MaxDocumentBytes bounds one uploaded file.
const MaxDocumentBytes = 20 << 20

// Document is one file of a trial document upload.
type Document struct {
	Name        string
	Tag         string
	Filename    string
	ContentType string
	Data        []byte
}

// UploadResult is the backend's answer to a document upload.
type UploadResult struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	IDs     []string `json:"document_ids,omitempty"`
}

// encodeDocuments builds the multipart body: names and tags as JSON-encoded
// string fields, files as documents[n].
func encodeDocuments(docs []Document) (*multipartBody, error) {
	if len(docs) == 0 {
		return nil, apperr.Validation("documents", "at least one document is required")
	}
	names := make([]string, len(docs))
	tags := make([]string, len(docs))
	for i, d := range docs {
		if d.Name == "" {
			return nil, apperr.Validation(fmt.Sprintf("documents[%d].name", i), "document name is required")
		}
		if len(d.Data) == 0 {
			return nil, apperr.Validation(fmt.Sprintf("documents[%d]", i), "document %q is empty", d.Name)
		}
		if len(d.Data) > MaxDocumentBytes {
			return nil, apperr.Validation(fmt.Sprintf("documents[%d]", i), "document %q exceeds %d bytes", d.Name, MaxDocumentBytes)
		}
		names[i] = d.Name
		tags[i] = d.Tag
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for field, v := range map[string][]string{"document_names": names, "document_tags": tags} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if err := w.WriteField(field, string(b)); err != nil {
			return nil, err
		}
	}
	for i, d := range docs {
		filename := d.Filename
		if filename == "" {
			filename = d.Name
		}
		ct := d.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="documents[%d]"; filename=%q`, i, filename))
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(d.Data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &multipartBody{contentType: w.FormDataContentType(), payload: buf.Bytes()}, nil
}

// UploadTrialDocuments uploads docs to a trial.
func (a *API) UploadTrialDocuments(ctx context.Context, trialID string, docs []Document) (UploadResult, error) {
	if trialID == "" {
		return UploadResult{}, apperr.Validation("trial_id", "trial id is required")
	}
	form, err := encodeDocuments(docs)
	if err != nil {
		return UploadResult{}, err
	}
	res := UploadResult{Success: true}
	req := request{
		method:   http.MethodPost,
		path:     "/trials/" + url.PathEscape(trialID) + "/documents",
		form:     form,
		raw:      true,
		optional: true,
	}
	if err := a.do(ctx, req, &res); err != nil {
		return UploadResult{}, err
	}
	return res, nil
}
