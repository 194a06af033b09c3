// Package pipeline runs one reconstruction: it loads a recording,
// synthesises virtual markers, resolves canonical keypoints, measures rigid
// segments and generates the rig. Every stage is timed and checkpointed;
// the first failure aborts the run and is returned wrapped in an
// errkind.StageError while earlier snapshots stay available.
package pipeline
