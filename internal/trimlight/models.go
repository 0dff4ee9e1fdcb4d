package trimlight

import (
	"encoding/json"

	"github.com/dokzlo13/trimlightd/internal/effect"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Code int    `json:"code"`
	Desc string `json:"desc"`
}

// DeviceDetail is the answer to a device detail request.
type DeviceDetail struct {
	Response
	Payload DevicePayload `json:"payload"`
}

// DevicePayload is the device state reported by the API.
type DevicePayload struct {
	DeviceID      string          `json:"deviceId"`
	Name          string          `json:"name,omitempty"`
	SwitchState   *int            `json:"switchState"`
	CurrentEffect effect.Effect   `json:"currentEffect"`
	Effects       []effect.Effect `json:"effects"`
}

// PreviewRequest is the payload of a preview command. Category and Mode are
// sent as null when unknown; the optional fields are omitted when absent.
type PreviewRequest struct {
	Category   *effect.Category
	Mode       *int
	Speed      int
	Brightness int
	Pixels     []effect.Pixel // nil = omitted, empty = sent as []
	PixelLen   *int
	Reverse    *bool
}

// BuiltinPreview builds a preview of a builtin animation. The preview
// endpoint needs pixel geometry even for builtins.
func BuiltinPreview(mode, brightness, speed, pixelLen int, reverse bool) PreviewRequest {
	cat := effect.CategoryBuiltin
	return PreviewRequest{
		Category:   &cat,
		Mode:       &mode,
		Speed:      speed,
		Brightness: brightness,
		PixelLen:   &pixelLen,
		Reverse:    &reverse,
	}
}

// EffectPreview builds a preview of an arbitrary effect record at the given
// brightness and speed.
func EffectPreview(e effect.Effect, brightness, speed int) PreviewRequest {
	n := e.Normalized()
	return PreviewRequest{
		Category:   n.Category,
		Mode:       n.Mode,
		Speed:      speed,
		Brightness: brightness,
		Pixels:     n.Pixels,
		PixelLen:   n.PixelLen,
		Reverse:    n.Reverse,
	}
}

// MarshalJSON implements json.Marshaler.
func (r PreviewRequest) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"category":   r.Category,
		"mode":       r.Mode,
		"speed":      r.Speed,
		"brightness": r.Brightness,
	}
	if r.Pixels != nil {
		m["pixels"] = r.Pixels
	}
	if r.PixelLen != nil {
		m["pixelLen"] = *r.PixelLen
	}
	if r.Reverse != nil {
		m["reverse"] = *r.Reverse
	}
	return json.Marshal(m)
}
