// Package feed defines upstream feeds and the closed registry of adapters that read them.
package feed
