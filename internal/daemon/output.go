package daemon

import (
	"fmt"

	"github.com/bryanchriswhite/owallpaperd/internal/window"
)

// Output is one physical screen area
type Output struct {
	Index  int `json:"index"`
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (o Output) geometry() window.Geometry {
	return window.Geometry{X: o.X, Y: o.Y, Width: o.Width, Height: o.Height}
}

// enumerateOutputs queries the backend once. Order is the server's.
func enumerateOutputs(b window.Backend) ([]Output, error) {
	geoms, err := b.QueryOutputs()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapabilityUnavailable, err)
	}
	if len(geoms) == 0 {
		return nil, fmt.Errorf("%w: no outputs reported", ErrCapabilityUnavailable)
	}

	outputs := make([]Output, len(geoms))
	for i, g := range geoms {
		if g.Width <= 0 || g.Height <= 0 {
			return nil, fmt.Errorf("%w: output %d has empty geometry %dx%d", ErrCapabilityUnavailable, i, g.Width, g.Height)
		}
		outputs[i] = Output{Index: i, X: g.X, Y: g.Y, Width: g.Width, Height: g.Height}
	}
	return outputs, nil
}
