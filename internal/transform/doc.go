// Package transform implements the geometric and intensity stages the
// pipeline applies to a subject bundle: padding, zero-cropping, resizing,
// intensity normalization, and seeded augmentation. Every stage is a pure
// function from bundle to bundle; label volumes only ever go through
// discrete-preserving paths (constant fill or index moves, never
// interpolated values).
package transform
