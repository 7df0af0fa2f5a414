// Package core defines the domain model for the Aegis triage backend.
//
// # Architecture Overview
//
// The core package provides:
//   - Domain types (Alert, AIAnalysis, Playbook, TimelineEvent, ActivityLogEntry, Asset)
//   - The per-alert triage state machine (no analysis -> analyzed -> playbooks generated)
//   - Constants and enums for event types, severities, and playbook structure
//   - Shared infrastructure used across layers (Redis cache, circuit breaker, prompt pack)
//
// # Design Principles
//
// Service interfaces are designed following these principles:
//  1. Interfaces defined where used (consumer package), not where implemented
//  2. Small, focused interfaces (1-3 methods ideal)
//  3. Accept interfaces, return concrete types
//  4. context.Context as first parameter for cancellation support
//  5. Typed errors with proper wrapping
package core
