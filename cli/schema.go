package cli

import (
	"github.com/javanhut/Ivaldi-objects/internal/schema"
)

// The command line works on a tree of notes. A note may link to child
// notes and to file attachments, which are stored as leaf blobs.
var (
	noteType = schema.TypeDescriptor{Package: "ivaldi.objects", Class: "Note", Version: "1.0.0"}
	blobType = schema.TypeDescriptor{Package: "ivaldi.objects", Class: "Blob", Version: "1.0.0"}

	blobSchema = schema.MustNew(blobType,
		schema.StringField("name"),
		schema.BytesField("data"),
	).AsLeaf()

	noteSchema = schema.MustNew(noteType,
		schema.StringField("title"),
		schema.StringField("body"),
		schema.IntField("priority"),
		schema.FloatField("estimate"),
		schema.BoolField("done"),
		schema.Repeated(schema.StringField("tags")),
		schema.Repeated(schema.LinkField("children", noteType)),
		schema.Repeated(schema.LinkField("attachments", blobType)),
	)
)

func registry() (*schema.Registry, error) {
	return schema.NewRegistry(noteSchema, blobSchema)
}
