// Package cache defines the content-addressable disk store that backs the
// progressive video cache. Every remote Source maps to a single file named
// <md5(source)><ext> directly under the cache directory; presence of that file
// is the only record that the source is cached, there is no manifest. Writes
// go through a temp file + rename so a reader never observes a partial body
// under the final name, and Clear is exclusive with every in-progress Write.
package cache
