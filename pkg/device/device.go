// Package device defines the capabilities the control loop consumes from a
// concrete device transport (C1 DeviceController, §6) without depending on
// any specific transport (Android-USB, Harmony, iOS-WDA).
package device

import "context"

// Point is a pixel coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// BBox is an inclusive-pixel bounding box.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Center returns the bbox's midpoint.
func (b BBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Screenshot is the result of a capture, including extracted elements (§6).
type Screenshot struct {
	PixelsPNG      []byte
	Width          int
	Height         int
	CurrentApp     string
	Elements       []UiElement
	FocusedElement *UiElement
	IsSensitive    bool
}

// Controller is the capability the core consumes from a device transport
// (§6 DeviceController capability).
type Controller interface {
	Screenshot(ctx context.Context) (*Screenshot, error)
	Tap(ctx context.Context, p Point) error
	DoubleTap(ctx context.Context, p Point) error
	LongPress(ctx context.Context, p Point) error
	Swipe(ctx context.Context, from, to Point, durationMS int) error
	Back(ctx context.Context) error
	Home(ctx context.Context) error
	LaunchApp(ctx context.Context, logicalName string) (bool, error)
	ClearText(ctx context.Context) error
	TypeText(ctx context.Context, text string) error
	SetIME(ctx context.Context) error
	RestoreIME(ctx context.Context) error
	CurrentApp(ctx context.Context) (string, error)
}

// Extractor parses raw screen XML into UiElements (§4.1 UiExtractor
// capability). It may be embedded in a Controller's Screenshot call.
type Extractor interface {
	ExtractElements(xml string) ([]UiElement, error)
}
