// Package storage defines the content-addressed store receipt documents are
// pinned to. Locators are derived from the document bytes, so every backend
// hands out the same locator for the same document.
package storage
