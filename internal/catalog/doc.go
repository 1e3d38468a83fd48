// Package catalog provides the device alias catalog.
//
// The catalog maps human-friendly device names (aliases) to MajorDoMo
// object/property pairs. It is loaded from a hand-editable JSON file:
//
//	{
//	  "свет": {
//	    "type": "relay",
//	    "devices": {
//	      "улица": { "object": "Relay01", "property": "status" },
//	      "комната отдыха, комната": { "object": "Relay02", "property": "status" }
//	    }
//	  }
//	}
//
// Device keys may list several equivalent names separated by commas; the
// names form an unordered alias set. The same alias may appear in several
// categories (e.g. "комната отдыха" as a light and as a speaker) - that is
// resolved at lookup time by category context. A duplicate alias within a
// single category is a load-time validation error.
//
// # Atomic Reload
//
// A loaded Catalog is immutable. Store holds the current catalog behind an
// atomic pointer and swaps it wholesale on reload, so concurrent lookups
// never observe a partially-updated catalog. A failed reload keeps the
// previous catalog in effect.
package catalog
