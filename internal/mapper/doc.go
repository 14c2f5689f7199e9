// Package mapper supplies the fixed node universe the information vector is
// built over. The universe comes from a YAML cluster map listing single
// nodes and contiguous address ranges, and is re-read when the file changes.
package mapper
