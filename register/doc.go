// Package register estimates the rigid transform aligning two point clouds
// from a set of tentative correspondences, using RANSAC.
//
// Responsibilities: input validation, minimal-sample drawing, closed-form
// rigid fitting (Kabsch), consensus scoring, adaptive termination, and
// least-squares refinement over the final inlier set.
// Key types: Correspondence, Criteria, Result.
//
// The estimator does no I/O; correspondences come from upstream feature
// matching (see package match) and results may be persisted via package
// regdb.
package register
