// Package cache implements the on-disk store that backs network-originated
// resources. Entries are addressed by their source key (normally the fetch
// URL) plus a media extension and live as <root>/vap_cache_<sha1><ext>.
// Writers stream into a uniquely named temp file and publish it with a single
// rename, so Lookup only ever opens complete files and never needs to lock
// against writers.
package cache
