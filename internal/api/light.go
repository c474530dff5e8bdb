package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dokzlo13/caselightd/internal/ledger"
	"github.com/dokzlo13/caselightd/internal/light"
)

// ZoneBody describes one zone.
type ZoneBody struct {
	Zone  int    `json:"zone" doc:"Zone index"`
	Color string `json:"color" example:"sapphire" doc:"Selected palette color"`
	Hex       string `json:"hex" example:"#0f52ba" doc:"Display tint of the color at full brightness"`
	Effective string `json:"effective" example:"#08295d" doc:"Display tint at the committed brightness"`
}

// LightBody is the full light state.
type LightBody struct {
	Transport     string     `json:"transport" example:"devwmi" doc:"Firmware transport in use"`
	Brightness    uint8      `json:"brightness" doc:"Last brightness accepted by the firmware"`
	MaxBrightness uint8      `json:"max_brightness"`
	Pending       *uint8     `json:"pending,omitempty" doc:"Brightness waiting to be sent"`
	Zones         []ZoneBody `json:"zones"`
}

type LightResponse struct {
	Body LightBody
}

type SetBrightnessRequest struct {
	Body struct {
		Brightness uint8 `json:"brightness" maximum:"255" doc:"Brightness level, clamped to max_brightness"`
	}
}

type SetBrightnessResponse struct {
	Body struct {
		Requested uint8 `json:"requested"`
		Committed uint8 `json:"committed" doc:"Brightness currently applied; updates once the firmware replies"`
	}
}

type ColorBody struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Hex   string `json:"hex"`
}

type ColorsResponse struct {
	Body []ColorBody
}

type ZoneInput struct {
	Zone int `path:"zone" minimum:"0" maximum:"3" doc:"Zone index"`
}

type ZoneResponse struct {
	Body ZoneBody
}

type SetZoneRequest struct {
	Zone int `path:"zone" minimum:"0" maximum:"3" doc:"Zone index"`
	Body struct {
		Color string `json:"color" example:"ruby" doc:"Palette color name"`
	}
}

type DispatchesInput struct {
	Limit int `query:"limit" minimum:"1" maximum:"1000" default:"50"`
}

type DispatchesResponse struct {
	Body []ledger.Entry
}

func zoneBody(i int, c light.Color, brightness uint8) ZoneBody {
	return ZoneBody{Zone: i, Color: c.String(), Hex: c.Hex(), Effective: c.Effective(brightness).Hex()}
}

func (s *Server) lightBody() LightBody {
	state := s.opts.Light.State()
	body := LightBody{
		Transport:     s.opts.Light.Transport(),
		Brightness:    state.Brightness,
		MaxBrightness: light.MaxBrightness,
		Zones:         make([]ZoneBody, 0, light.MaxZones),
	}
	if v, ok := s.opts.Light.Pending(); ok {
		body.Pending = &v
	}
	for i, c := range state.Zones {
		body.Zones = append(body.Zones, zoneBody(i, c, state.Brightness))
	}
	return body
}

func (s *Server) registerLightRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-light",
		Method:      http.MethodGet,
		Path:        "/api/light",
		Summary:     "Get light state",
		Tags:        []string{"light"},
	}, func(ctx context.Context, input *struct{}) (*LightResponse, error) {
		return &LightResponse{Body: s.lightBody()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "set-brightness",
		Method:        http.MethodPut,
		Path:          "/api/light/brightness",
		Summary:       "Set brightness",
		Description:   "Queues a brightness change. The call returns before the firmware is reached.",
		Tags:          []string{"light"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *SetBrightnessRequest) (*SetBrightnessResponse, error) {
		s.opts.Light.SetBrightness(input.Body.Brightness)
		resp := &SetBrightnessResponse{}
		resp.Body.Requested = min(input.Body.Brightness, light.MaxBrightness)
		resp.Body.Committed = s.opts.Light.Brightness()
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-colors",
		Method:      http.MethodGet,
		Path:        "/api/colors",
		Summary:     "List palette colors",
		Tags:        []string{"light"},
	}, func(ctx context.Context, input *struct{}) (*ColorsResponse, error) {
		resp := &ColorsResponse{Body: make([]ColorBody, 0, light.NumColors)}
		for _, c := range light.Colors() {
			resp.Body = append(resp.Body, ColorBody{Index: int(c), Name: c.String(), Hex: c.Hex()})
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-zone",
		Method:      http.MethodGet,
		Path:        "/api/zones/{zone}",
		Summary:     "Get zone color",
		Tags:        []string{"zones"},
	}, func(ctx context.Context, input *ZoneInput) (*ZoneResponse, error) {
		state := s.opts.Light.State()
		return &ZoneResponse{Body: zoneBody(input.Zone, state.Zones[input.Zone], state.Brightness)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-zone",
		Method:      http.MethodPut,
		Path:        "/api/zones/{zone}",
		Summary:     "Set zone color",
		Tags:        []string{"zones"},
		Errors:      []int{400},
	}, func(ctx context.Context, input *SetZoneRequest) (*ZoneResponse, error) {
		if err := s.opts.Light.SetZone(input.Zone, input.Body.Color); err != nil {
			if errors.Is(err, light.ErrInvalidColor) {
				return nil, huma.Error400BadRequest("Unknown color", err)
			}
			return nil, huma.Error500InternalServerError("Failed to set zone", err)
		}
		state := s.opts.Light.State()
		return &ZoneResponse{Body: zoneBody(input.Zone, state.Zones[input.Zone], state.Brightness)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-dispatches",
		Method:      http.MethodGet,
		Path:        "/api/dispatches",
		Summary:     "Recent firmware dispatches",
		Tags:        []string{"ledger"},
		Errors:      []int{404},
	}, func(ctx context.Context, input *DispatchesInput) (*DispatchesResponse, error) {
		if s.opts.Ledger == nil {
			return nil, huma.Error404NotFound(ledger.ErrDisabled.Error())
		}
		entries, err := s.opts.Ledger.Recent(input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to read ledger", err)
		}
		return &DispatchesResponse{Body: entries}, nil
	})
}
