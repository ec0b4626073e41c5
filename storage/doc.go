// Package storage provides the data model and persistence interfaces for
// tenant cloud-storage integrations: Provider configurations, Integration
// records with encrypted token material, and the TokenSet value type.
//
// Two implementations ship with the module: storage/memory for development and
// tests, and storage/mongo for production deployments.
package storage
