// Package catalog holds the data model shared by every harvest phase:
// rendering variants, fetched fragments, merged trees, flattened records,
// their code-free metadata derivatives, and the error taxonomy.
package catalog
