// Package trajectory holds named 3D marker trajectories for one recording
// and the operations applied to them before rigging.
//
// A Store owns an ordered set of trajectories that all share one frame
// count. Stores are mutated in place by ApplyTransform and grow through the
// Synthesizer, which derives virtual markers as weighted sums of existing
// trajectories. Stages keeps deep
// copies of a Store at named milestones so earlier states remain
// inspectable after later steps fail.
//
// Points are gonum r3.Vec values in metres. Frames where a tracker lost a
// marker hold NaN components; every reduction in this package skips
// non-finite points rather than propagating them.
package trajectory
