// Package resource provides physical GPU resources (images and buffers)
// with explicit descriptors and ownership tagging.
//
// An Image or Buffer wraps the raw HAL object together with the descriptor
// it was created from. Descriptors are plain comparable structs so they can
// key free lists and caches. Every resource carries an Origin tag: transient
// resources belong to a pool and are recycled between frames, external
// resources belong to the caller and are never released by graph machinery.
package resource
