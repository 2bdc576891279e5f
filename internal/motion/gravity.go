package motion

// DefaultGravityAlpha weights the previous gravity estimate. At 50 Hz this is
// a time constant of roughly 0.2 s.
const DefaultGravityAlpha = 0.9

// GravityFilter separates gravity from total acceleration for sensors that
// only report the sum. It is a first-order low-pass on the accelerometer:
//
//	gravity = alpha*gravity + (1-alpha)*accel
//	user    = accel - gravity
type GravityFilter struct {
	alpha   float64
	gravity Vec3
	ready   bool
}

// NewGravityFilter returns a filter with the given smoothing factor in [0,1).
// Out of range values fall back to DefaultGravityAlpha.
func NewGravityFilter(alpha float64) *GravityFilter {
	if alpha < 0 || alpha >= 1 {
		alpha = DefaultGravityAlpha
	}
	return &GravityFilter{alpha: alpha}
}

// Split feeds one total acceleration reading and returns user acceleration
// and the current gravity estimate. The first reading seeds gravity, so user
// acceleration starts at zero.
func (f *GravityFilter) Split(accel Vec3) (user, gravity Vec3) {
	if !f.ready {
		f.gravity = accel
		f.ready = true
		return Vec3{}, f.gravity
	}
	a := f.alpha
	f.gravity = Vec3{
		X: a*f.gravity.X + (1-a)*accel.X,
		Y: a*f.gravity.Y + (1-a)*accel.Y,
		Z: a*f.gravity.Z + (1-a)*accel.Z,
	}
	return Vec3{
		X: accel.X - f.gravity.X,
		Y: accel.Y - f.gravity.Y,
		Z: accel.Z - f.gravity.Z,
	}, f.gravity
}

// Reset discards the gravity estimate.
func (f *GravityFilter) Reset() {
	f.gravity = Vec3{}
	f.ready = false
}
