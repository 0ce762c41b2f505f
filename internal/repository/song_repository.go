// Package repository contains data access logic separated from HTTP handlers.
// This file defines the Song repository backed by a MongoDB collection.
// Every method performs a single store round trip except Reset, which
// replaces the whole collection.
package repository

import (
	"context" // context carries request deadlines and cancellation into the driver
	"fmt"     // fmt renders non-ObjectID inserted ids

	"github.com/juju/errors"                     // errors annotates driver failures
	"go.mongodb.org/mongo-driver/bson"           // bson builds filters and update documents
	"go.mongodb.org/mongo-driver/bson/primitive" // primitive exposes the ObjectID type
	"go.mongodb.org/mongo-driver/mongo"          // mongo is the collection handle
	"go.mongodb.org/mongo-driver/mongo/options"  // options configures the unique index

	"github.com/iliyamo/song-service/internal/model"
)

// SongRepo encapsulates all queries on the songs collection.  The
// collection handle is created once at startup and injected here.
type SongRepo struct {
	coll *mongo.Collection
}

// NewSongRepo constructs a SongRepo around the provided collection.
func NewSongRepo(coll *mongo.Collection) *SongRepo {
	return &SongRepo{coll: coll}
}

func byID(id int64) bson.M { return bson.M{model.FieldID: id} }

// EnsureIndexes creates the unique index on the application id.  It is
// idempotent and must run again after the collection is dropped.
func (r *SongRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: model.FieldID, Value: 1}},
		Options: options.Index().SetUnique(true).SetName("id_unique"),
	})
	return errors.Annotate(err, "creating unique index on songs.id")
}

// Count returns the number of documents in the collection.
func (r *SongRepo) Count(ctx context.Context) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, errors.Annotate(err, "counting songs")
	}
	return n, nil
}

// List returns every song in store order.  An empty collection yields an
// empty, non-nil slice.
func (r *SongRepo) List(ctx context.Context) ([]model.Song, error) {
	cur, err := r.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.Annotate(err, "listing songs")
	}
	out := []model.Song{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Annotate(err, "decoding songs")
	}
	return out, nil
}

// GetByID fetches a song by its application id.  It returns
// ErrSongNotFound if no document matches.
func (r *SongRepo) GetByID(ctx context.Context, id int64) (model.Song, error) {
	var s model.Song
	if err := r.coll.FindOne(ctx, byID(id)).Decode(&s); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSongNotFound
		}
		return nil, errors.Annotatef(err, "fetching song %d", id)
	}
	return s, nil
}

// Create inserts a new song and returns the store identifier as a string.
// Any client supplied _id is discarded so the store assigns one.  A
// duplicate application id is reported as ErrDuplicateID.
func (r *SongRepo) Create(ctx context.Context, s model.Song) (string, error) {
	res, err := r.coll.InsertOne(ctx, s.Fields())
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", ErrDuplicateID
		}
		return "", errors.Annotate(err, "inserting song")
	}
	return storeIDString(res.InsertedID), nil
}

// Update applies a field-merge update to the song with the given id: only
// the fields present in fields are overwritten.  ErrSongNotFound is
// returned when nothing matched.
func (r *SongRepo) Update(ctx context.Context, id int64, fields model.Song) error {
	res, err := r.coll.UpdateOne(ctx, byID(id), bson.M{"$set": fields.Fields()})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateID
		}
		return errors.Annotatef(err, "updating song %d", id)
	}
	if res.MatchedCount == 0 {
		return ErrSongNotFound
	}
	return nil
}

// Delete removes the song with the given id.  ErrSongNotFound is returned
// when no document was removed.
func (r *SongRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.coll.DeleteOne(ctx, byID(id))
	if err != nil {
		return errors.Annotatef(err, "deleting song %d", id)
	}
	if res.DeletedCount == 0 {
		return ErrSongNotFound
	}
	return nil
}

// Reset drops the collection, inserts songs and recreates the indexes.  It
// returns the number of inserted documents.  This destroys every write made
// through the API and is only called from the seeding paths.
func (r *SongRepo) Reset(ctx context.Context, songs []model.Song) (int, error) {
	if err := r.coll.Drop(ctx); err != nil {
		return 0, errors.Annotate(err, "dropping songs collection")
	}
	inserted := 0
	if len(songs) > 0 {
		docs := make([]any, 0, len(songs))
		for _, s := range songs {
			docs = append(docs, s.Fields())
		}
		res, err := r.coll.InsertMany(ctx, docs)
		if err != nil {
			return 0, errors.Annotate(err, "inserting seed songs")
		}
		inserted = len(res.InsertedIDs)
	}
	if err := r.EnsureIndexes(ctx); err != nil {
		return inserted, errors.Trace(err)
	}
	return inserted, nil
}

func storeIDString(v any) string {
	if oid, ok := v.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprint(v)
}
