// Package plugins hosts source adapter subpackages. It intentionally
// contains no production runtime code itself; this file exists to satisfy
// tooling (go vet, import guards) for the architectural tests that live
// alongside it.
//
// Adapter packages describe how an external evidence corpus maps onto the
// ontology (part hints, transform hints, mixture markers). They must depend
// only on the stable surfaces in pkg/sourceapi and pkg/ontology, never on
// internal compiler packages; the architecture test below enforces this so
// adapters stay buildable against the published API alone. Adapter test
// files are exempt from the guard so they can run the evidence mapper end
// to end against real hint tables.
package plugins
