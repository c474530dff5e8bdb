package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dokzlo13/caselightd/internal/light"
)

// attribute values are short; anything longer is rejected
const maxAttributeSize = 4096

// registerAttributeRoutes mirrors the driver's sysfs files as plain text.
func (s *Server) registerAttributeRoutes() {
	s.router.Route("/attr", func(r chi.Router) {
		r.Get("/max_brightness", func(w http.ResponseWriter, r *http.Request) {
			writeText(w, http.StatusOK, strconv.Itoa(light.MaxBrightness)+"\n")
		})
		r.Get("/brightness", s.readBrightness)
		r.Put("/brightness", s.writeBrightness)
		r.Get("/zone_{zone}_color", s.readZone)
		r.Put("/zone_{zone}_color", s.writeZone)
	})
}

func (s *Server) readBrightness(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, strconv.Itoa(int(s.opts.Light.Brightness()))+"\n")
}

func (s *Server) writeBrightness(w http.ResponseWriter, r *http.Request) {
	text, ok := readAttribute(w, r)
	if !ok {
		return
	}
	v, err := strconv.ParseUint(strings.TrimSpace(text), 10, 8)
	if err != nil {
		writeText(w, http.StatusBadRequest, "invalid brightness\n")
		return
	}
	s.opts.Light.SetBrightness(uint8(v))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) readZone(w http.ResponseWriter, r *http.Request) {
	zone, err := strconv.Atoi(chi.URLParam(r, "zone"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	text, err := s.opts.Light.ReadZoneAttribute(zone)
	if err != nil {
		writeAttributeError(w, r, err)
		return
	}
	writeText(w, http.StatusOK, text)
}

func (s *Server) writeZone(w http.ResponseWriter, r *http.Request) {
	zone, err := strconv.Atoi(chi.URLParam(r, "zone"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	text, ok := readAttribute(w, r)
	if !ok {
		return
	}
	if err := s.opts.Light.WriteZoneAttribute(zone, text); err != nil {
		writeAttributeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readAttribute(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAttributeSize+1))
	if err != nil {
		writeText(w, http.StatusBadRequest, "failed to read body\n")
		return "", false
	}
	if len(body) > maxAttributeSize {
		writeText(w, http.StatusRequestEntityTooLarge, "value too long\n")
		return "", false
	}
	return string(body), true
}

func writeAttributeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, light.ErrInvalidZone):
		http.NotFound(w, r)
	case errors.Is(err, light.ErrInvalidColor):
		writeText(w, http.StatusBadRequest, "invalid color\n")
	default:
		writeText(w, http.StatusInternalServerError, err.Error()+"\n")
	}
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, text)
}
