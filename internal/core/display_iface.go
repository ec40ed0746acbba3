package core

// DisplaySurface is where a stream is shown. Exactly one stream is bound at a time;
// binding nil clears the surface.
type DisplaySurface interface {
	Name() string
	Bind(s Stream)
	Bound() Stream
}
