// Package mongo implements store.Store on MongoDB through the official
// mongo-driver v2.
//
// States live in the infinitic_states collection keyed by entity id. The
// state document is kept as JSON next to the indexed status, kind and
// version fields; conditional updates filter on the version.
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	s := mongo.New(client.Database("infinitic"))
//	if err := s.Migrate(ctx); err != nil { ... }
package mongo
