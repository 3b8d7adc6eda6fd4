package tinycc

/*
tinycc is an embeddable transactional key/value engine. It keeps every storage in memory, versioned per key, and
serializes transactions with a hybrid of optimistic concurrency control for short transactions and write preserving
long transactions. Commits are logged to a durable channel and can be replayed after a restart.

The `tinycc` module is organized into the following packages:

* `kv/transaction`: the engine, its transaction protocols and its subpackages.
* `kv/storage`: named storages and their ordered in-memory index.
* `kv/durability`: the log channel, in memory or on badger, and its flusher.
* `kv/config`: engine configuration, loadable from toml.
* `kv/metrics`: prometheus collectors.
* `kv/util`: the key codec and the worker used by the flusher.
* `log`: the process logger.
*/
