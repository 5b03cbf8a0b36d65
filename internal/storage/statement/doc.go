// Package statement resolves backend query templates for the sparse store.
//
// Templates are configured under dotted keys:
//
//	<operation>[.<keyspace>][.<family>][._<shard>]
//
// For a request on (keyspace, family, shard) the most specific configured key
// wins, in this order:
//
//	op.ks.cf._shard, op.cf._shard, op.ks._shard, op._shard,
//	op.ks.cf, op.cf, op.ks, op
//
// No match is a configuration error, never a silent default. Unrecognized keys
// are carried but ignored so newer configs still load.
//
// Find templates use a small mini-language of three ';'-separated parts: a row
// template, a per-predicate join fragment and a per-predicate where fragment.
// {0} in the fragments is the predicate alias; {0} and {1} in the row template
// receive the accumulated joins and wheres, and {2} and {3} there become
// parameters for the keyspace and family. All values are bound as
// parameters; nothing a caller supplies is ever interpolated into SQL text.
package statement
