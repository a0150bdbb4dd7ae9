package redisstore

// Key layout, per collection:
//
//	dg:{coll}:doc:{id}     JSON document
//	dg:{coll}:ts           zset of ids scored by timestamp (unix ms)
//	dg:{coll}:geo          geo set of located ids
//	dg:{coll}:h3:{cell}    set of ids located in an index cell
//	dg:{coll}:meta:{id}    set of data ids pointing at a metadata id
const keyPrefix = "dg:"

func docKey(coll, id string) string { return keyPrefix + coll + ":doc:" + id }

func tsKey(coll string) string { return keyPrefix + coll + ":ts" }

func geoKey(coll string) string { return keyPrefix + coll + ":geo" }

func cellKey(coll, cell string) string { return keyPrefix + coll + ":h3:" + cell }

func metaKey(coll, metaID string) string { return keyPrefix + coll + ":meta:" + metaID }

func docKeys(coll string, ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = docKey(coll, id)
	}
	return out
}
