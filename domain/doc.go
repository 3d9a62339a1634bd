// Package domain defines the core data structures of the mimic proxy.
// It contains the Mapping model, the Pattern variant that decides which request
// targets a mapping applies to, the metadata projection exposed to the control
// plane, and the error taxonomy shared by every layer.
//
// It also declares the BlobRepository contract that the persistence backends
// (the filestore and db packages) implement, keeping the mapping store
// independent of the storage technology.
package domain
