package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/nuclearlighters/airbox/internal/firmware"
)

// HeaderFirmwareSHA256 optionally carries the hex SHA-256 of the uploaded image.
const HeaderFirmwareSHA256 = "X-Firmware-SHA256"

const (
	uploadChunkSize = 4096
	// Room for multipart boundaries and part headers on top of the image.
	multipartOverhead = 64 << 10
)

var errNoFilePart = errors.New("no file part in upload")

// UploadFirmware handles POST /firmware/upload. The first file part of a
// multipart body is streamed chunk by chunk into an update session; on a
// committed image the device restarts after UPDATE_SETTLE_DELAY.
func (s *Server) UploadFirmware(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.FirmwareMaxBytes+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		writeResult(w, http.StatusBadRequest, false, "Expected a multipart/form-data upload")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		log.Warn().Err(err).Msg("Firmware upload without image")
		writeResult(w, http.StatusBadRequest, false, "No firmware file in upload")
		return
	}
	defer part.Close()

	sess, err := s.deps.Firmware.Start(r.Context(), r.Header.Get(HeaderFirmwareSHA256))
	if err != nil {
		if errors.Is(err, firmware.ErrBusy) {
			writeResult(w, http.StatusConflict, false, "Another update is in progress")
			return
		}
		log.Error().Err(err).Msg("Failed to start firmware update")
		writeResult(w, http.StatusInternalServerError, false, "Update failed to start")
		return
	}

	log.Info().Str("session", sess.ID).Str("file", part.FileName()).Msg("Receiving firmware image")

	buf := make([]byte, uploadChunkSize)
	for {
		n, rerr := part.Read(buf)
		if n > 0 {
			if err := sess.Write(buf[:n]); err != nil {
				writeResult(w, http.StatusInternalServerError, false, "Update write failed")
				return
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			sess.Abort()
			var tooLarge *http.MaxBytesError
			if errors.As(rerr, &tooLarge) {
				writeResult(w, http.StatusRequestEntityTooLarge, false, "Firmware image too large")
				return
			}
			log.Warn().Err(rerr).Str("session", sess.ID).Msg("Firmware upload interrupted")
			writeResult(w, http.StatusBadRequest, false, "Upload aborted")
			return
		}
	}

	img, err := sess.End()
	if err != nil {
		writeResult(w, http.StatusInternalServerError, false, "Update failed")
		return
	}

	log.Info().Str("session", sess.ID).Int64("bytes", img.Size).Msg("Firmware update complete")
	writeResult(w, http.StatusOK, true, "Update complete, restarting")
	s.deps.Restarts.Schedule(reasonFirmware, s.cfg.UpdateSettleDelay)
}

// nextFilePart skips form fields up to the first part carrying a file name.
func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errNoFilePart
		}
		if err != nil {
			return nil, err
		}
		if part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

// FirmwareStatus is the body of GET /firmware/status.
type FirmwareStatus struct {
	Uploading bool            `json:"uploading"`
	Next      *firmware.Image `json:"next"`
}

// GetFirmwareStatus handles GET /firmware/status.
func (s *Server) GetFirmwareStatus(w http.ResponseWriter, r *http.Request) {
	resp := FirmwareStatus{Uploading: s.deps.Firmware.Active()}
	if s.deps.Images != nil {
		img, err := s.deps.Images.Next()
		if err != nil {
			log.Error().Err(err).Msg("Failed to read staged firmware")
			writeError(w, http.StatusInternalServerError, "Failed to read staged firmware")
			return
		}
		resp.Next = img
	}
	writeJSON(w, http.StatusOK, resp)
}
