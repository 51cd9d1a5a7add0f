// Package graphql extracts structure from GraphQL subscription documents
// and result payloads.
//
// The package is deliberately schema-less: documents are parsed purely
// syntactically with gqlparser, never validated against a schema. That keeps
// resubd deployable in front of any upstream without schema distribution, at
// the cost of treating type errors as the upstream's problem.
//
// Two entry points:
//
//   - ParseSubscription analyzes a subscription document into its root field
//     name, alias, flattened leaf fields, and resolved argument values.
//   - ResultRoot splits a subscription result payload into its root name and
//     data object.
//
// Both are pure functions, safe for concurrent use.
package graphql
