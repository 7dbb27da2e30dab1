package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/fredemmott/TempFiles/internal/common"
	"github.com/fredemmott/TempFiles/internal/server/models"
)

const (
	finalDownloadHeader = "X-Final-Download"

	// upper bound for every multipart field except the ciphertext
	maxFieldBytes = 64 << 10
)

type blobResponse struct {
	UUID               string `json:"uuid"`
	Salt               string `json:"salt"`
	FilenameIV         string `json:"filename_iv"`
	DataIV             string `json:"data_iv"`
	EncryptedFilename  string `json:"encrypted_filename"`
	IsE2EE             bool   `json:"is_e2ee"`
	CreatedAt          int64  `json:"created_at"`
	DownloadsRemaining *int64 `json:"downloads_remaining"`
	ExpiresAt          *int64 `json:"expires_at"`
}

func toBlobResponse(b *models.Blob) blobResponse {
	resp := blobResponse{
		UUID:               b.UUID,
		FilenameIV:         b.FilenameIV,
		DataIV:             b.DataIV,
		EncryptedFilename:  b.EncryptedFilename,
		IsE2EE:             b.CredentialID != nil,
		CreatedAt:          b.CreatedAt.Unix(),
		DownloadsRemaining: b.DownloadsRemaining,
		ExpiresAt:          unix(b.ExpiresAt),
	}
	if b.Salt != nil {
		resp.Salt = *b.Salt
	}
	return resp
}

// uploadForm collects the non-file multipart fields.
type uploadForm struct {
	Salt               string `validate:"required"`
	FilenameIV         string `validate:"required"`
	DataIV             string `validate:"required"`
	EncryptedFilename  string `validate:"required"`
	IsE2EE             string `validate:"omitempty,oneof=true false 1 0 on off"`
	DownloadsRemaining string `validate:"omitempty,number"`
	ExpiresAt          string `validate:"omitempty,number"`
}

func (f *uploadForm) set(name, value string) {
	switch name {
	case "salt":
		f.Salt = value
	case "filename_iv":
		f.FilenameIV = value
	case "data_iv":
		f.DataIV = value
	case "encrypted_filename":
		f.EncryptedFilename = value
	case "is_e2ee":
		f.IsE2EE = value
	case "downloads_remaining":
		f.DownloadsRemaining = value
	case "expires_at":
		f.ExpiresAt = value
	}
}

func (f *uploadForm) meta() (models.BlobMeta, error) {
	m := models.BlobMeta{
		Salt:              f.Salt,
		FilenameIV:        f.FilenameIV,
		DataIV:            f.DataIV,
		EncryptedFilename: f.EncryptedFilename,
		BindToCredential:  f.IsE2EE == "true" || f.IsE2EE == "1" || f.IsE2EE == "on",
	}
	if f.DownloadsRemaining != "" {
		n, err := strconv.ParseInt(f.DownloadsRemaining, 10, 64)
		if err != nil {
			return m, fmt.Errorf("%w: downloads_remaining: %w", common.ErrBadRequest, err)
		}
		m.DownloadsRemaining = &n
	}
	if f.ExpiresAt != "" {
		n, err := strconv.ParseInt(f.ExpiresAt, 10, 64)
		if err != nil {
			return m, fmt.Errorf("%w: expires_at: %w", common.ErrBadRequest, err)
		}
		t := time.Unix(n, 0)
		m.ExpiresAt = &t
	}
	return m, nil
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	blobs, err := s.blobs.List(r.Context(), ownerOf(sessionFrom(r.Context())))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	out := make([]blobResponse, 0, len(blobs))
	for _, b := range blobs {
		out = append(out, toBlobResponse(b))
	}
	respondWithJSON(w, http.StatusOK, out)
}

func readField(p *multipart.Part) (string, error) {
	b, err := io.ReadAll(io.LimitReader(p, maxFieldBytes+1))
	if err != nil {
		return "", err
	}
	if len(b) > maxFieldBytes {
		return "", fmt.Errorf("%w: field %s too large", common.ErrBadRequest, p.FormName())
	}
	return string(b), nil
}

// upload streams the "encrypted_data" part to the staging directory. The
// session comes from the Authorization header or from a "session" part that
// precedes the data.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if s.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	}

	var session *models.Session
	if secret := bearerToken(r); secret != "" {
		var err error
		if session, err = s.sessions.Validate(secret); err != nil {
			s.respondError(w, r, err)
			return
		}
	}

	mr, err := r.MultipartReader()
	if err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, codeBadRequest, "expected multipart/form-data")
		return
	}

	var (
		form   uploadForm
		staged *os.File
	)
	defer func() {
		if staged != nil {
			staged.Close()
			// gone already when the upload was stored
			_ = os.Remove(staged.Name())
		}
	}()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.respondError(w, r, fmt.Errorf("%w: %w", common.ErrBadRequest, err))
			return
		}

		switch name := part.FormName(); name {
		case "session":
			secret, err := readField(part)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			if session == nil {
				if session, err = s.sessions.Validate(secret); err != nil {
					s.respondError(w, r, err)
					return
				}
			}
		case "encrypted_data":
			if session == nil {
				s.respondError(w, r, common.ErrInvalidSession)
				return
			}
			if staged != nil {
				s.respondError(w, r, fmt.Errorf("%w: duplicate encrypted_data", common.ErrBadRequest))
				return
			}
			if staged, err = os.CreateTemp(s.opts.StagingDir, "upload-*"); err != nil {
				s.respondError(w, r, fmt.Errorf("%w: %w", common.ErrStorage, err))
				return
			}
			if _, err := io.Copy(staged, part); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					respondErrorWithCode(w, http.StatusRequestEntityTooLarge, codeBadRequest, "upload too large")
					return
				}
				s.respondError(w, r, fmt.Errorf("%w: %w", common.ErrBadRequest, err))
				return
			}
		default:
			value, err := readField(part)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			form.set(name, value)
		}
	}

	if session == nil {
		s.respondError(w, r, common.ErrInvalidSession)
		return
	}
	if staged == nil {
		respondErrorWithCode(w, http.StatusBadRequest, codeValidation, "encrypted_data is required")
		return
	}
	if err := s.validate.Struct(&form); err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	meta, err := form.meta()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	blob, err := s.blobs.Upload(r.Context(), ownerOf(session), meta, staged)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"uuid": blob.UUID})
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	id := r.PostFormValue("uuid")

	rc, final, err := s.blobs.Download(r.Context(), ownerOf(sessionFrom(r.Context())), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(finalDownloadHeader, strconv.FormatBool(final))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn(r.Context(), "download interrupted", "uuid", id, "error", err)
	}
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PostFormValue("uuid")
	if err := s.blobs.Delete(r.Context(), ownerOf(sessionFrom(r.Context())), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.blobs.DeleteAll(r.Context(), ownerOf(sessionFrom(r.Context())))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"deleted": n})
}
