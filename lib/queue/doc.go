// Package queue implements a bounded FIFO queue on top of one namespace of a
// db.Store.
//
// Entries are stored under their Position, a fixed width base 36 key
// ("000000" .. "ZZZZZZ"). The positions form a ring: after "ZZZZZZ" the next
// entry is written to "000000". Three metadata keys live next to the entries:
//
//	_HEAD     the position the next entry is written to
//	_TAIL     the position of the oldest entry
//	_VERSION  the layout version, a mismatch discards the queue on Open
//
// Example usage:
//
//	q, err := queue.Open(store, db.NsEmailQueue, queue.WithMaxSize(10000))
//	if err != nil {
//		return err
//	}
//	_ = q.Add("first", "second")
//	it := q.Iterator() // newest first
//	for it.Next() {
//		fmt.Println(it.Value())
//	}
//
// A Queue caches head and tail in memory, so only one Queue per namespace and
// store should be open at a time.
package queue
