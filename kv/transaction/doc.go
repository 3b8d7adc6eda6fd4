package transaction

// The transaction package implements tinycc's engine: an in-process key/value store whose transactions are
// serialized by a hybrid of two concurrency control schemes. Callers claim a session with Enter, run transactions on it
// and give it back with Leave. The Engine created by Init owns every piece of shared state.
//
// There are three kinds of transactions:
//
// *Short* transactions are optimistic (Silo style). Reads remember the header word of every record they saw and
// the index node versions of every range they scanned. Writes are buffered in the session. Commit locks the written
// records in a global order, takes the current epoch as the serialization point, validates the reads and the nodes,
// and installs the versions stamped with (epoch, tid). Nothing is locked before commit and a short transaction never
// waits for another one beyond the few instructions a commit holds a record lock.
//
// *Long* transactions declare up front the storages they will write (their write preserve) and are serialized at
// their valid epoch, the epoch after the one they began in. They read the newest versions below their valid epoch and
// commit by splicing versions stamped with the valid epoch into the chains. Priority among long transactions is
// (valid epoch, id): a lower one wins. A reader that touches a storage preserved by a higher priority transaction
// overtakes it, i.e. orders itself before it, and waits at commit until the overtaken transaction decided. Short
// transactions writing a preserved storage in or after the preserving transaction's valid epoch fail, and their reads
// of preserved storages leave marks a long transaction checks before writing.
//
// *Read only* transactions read a snapshot below their valid epoch and never fail.
//
// Long and read only transactions may only operate once every commit below their valid epoch has finished; until
// then their operations return WarnPremature.
//
// The epoch driver, garbage collection and the resolver of waiting long transactions run in the background. The log
// channel receives the records of every commit and makes them durable epoch by epoch.
//
// Within this package, begin.go starts transactions, read.go, scan.go and write.go are the operations, commit_occ.go
// and commit_ltx.go are the two commit protocols, gc.go is garbage collection and recovery.go rebuilds the storages
// from the log channel. The building blocks live in subpackages: `epoch` (clock), `tid` (header words), `mvcc`
// (records and versions), `session` (per worker state), `wp` (write preserve bookkeeping), `status` and `latches`.
