// Package resource wraps allocator-backed buffers and textures. A Buffer owns both its native
// buffer and its vam.Handle, and can be carved into SubBuffers. TypedBuffer views a Buffer as a
// slice of T. Texture owns an optimally-tiled image and uploads its texels through an Uploader.
package resource
