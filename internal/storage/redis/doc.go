// Package redis stores pinned receipt documents in Redis under their content
// locator.
package redis
