package mongo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"messenger/internal/app/messaging"
	"messenger/internal/domain/chat"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

// Store persists conversations and messages in MongoDB. The send path
// relies on a multi-document transaction so a message can never exist
// while its conversation preview or unread counters are stale.
type Store struct {
	db            *mongo.Database
	conversations *mongo.Collection
	messages      *mongo.Collection
	logger        *slog.Logger
}

// NewStore builds a Store over an established client.
func NewStore(client *Client, logger *slog.Logger) *Store {
	return &Store{
		db:            client.DB,
		conversations: client.DB.Collection(conversationsCollection),
		messages:      client.DB.Collection(messagesCollection),
		logger:        logger,
	}
}

// EnsureIndexes creates the uniqueness and pagination indexes. The
// direct-pair index is what makes getOrCreateDirect race-free; the
// client-message index is what makes send retries idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "direct_key", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"type": chat.ConversationDirect}),
		},
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_activity", Value: -1}}},
	})
	if err != nil {
		return err
	}
	_, err = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "sender_id", Value: 1}, {Key: "client_message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
	})
	return err
}

func (s *Store) CreateConversation(ctx context.Context, conv *chat.Conversation) error {
	if _, err := s.conversations.InsertOne(ctx, conv); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return chat.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	var conv chat.Conversation
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&conv); err != nil {
		return nil, mapNotFound(err)
	}
	return &conv, nil
}

func (s *Store) FindDirect(ctx context.Context, directKey string) (*chat.Conversation, error) {
	var conv chat.Conversation
	if err := s.conversations.FindOne(ctx, bson.M{"direct_key": directKey}).Decode(&conv); err != nil {
		return nil, mapNotFound(err)
	}
	return &conv, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]*chat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_activity", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := s.conversations.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]*chat.Conversation, 0)
	for cur.Next(ctx) {
		var conv chat.Conversation
		if err := cur.Decode(&conv); err != nil {
			return nil, err
		}
		out = append(out, &conv)
	}
	return out, cur.Err()
}

func (s *Store) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"archived." + userID: archived}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return chat.ErrNotFound
	}
	return nil
}

// AppendMessage inserts the message and updates the conversation's
// preview, activity and per-recipient unread counters in one commit.
func (s *Store) AppendMessage(ctx context.Context, msg *chat.Message) error {
	return s.inTransaction(ctx, func(sc mongo.SessionContext) error {
		var conv chat.Conversation
		if err := s.conversations.FindOne(sc, bson.M{"_id": msg.ConversationID}).Decode(&conv); err != nil {
			return mapNotFound(err)
		}
		if _, err := s.messages.InsertOne(sc, msg); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return chat.ErrConflict
			}
			return err
		}
		inc := bson.M{}
		for _, p := range conv.Recipients(msg.SenderID) {
			inc["unread."+p] = 1
		}
		update := bson.M{
			"$set": bson.M{
				"last_message": chat.MessageSummary{
					MessageID: msg.ID,
					SenderID:  msg.SenderID,
					Content:   chat.TrimSnippet(msg.Content, 500),
					SentAt:    msg.CreatedAt,
				},
				"last_activity": msg.CreatedAt,
			},
		}
		if len(inc) > 0 {
			update["$inc"] = inc
		}
		_, err := s.conversations.UpdateOne(sc, bson.M{"_id": msg.ConversationID}, update)
		return err
	})
}

func (s *Store) FindByClientID(ctx context.Context, conversationID, senderID, clientMessageID string) (*chat.Message, error) {
	var msg chat.Message
	err := s.messages.FindOne(ctx, bson.M{
		"conversation_id":   conversationID,
		"sender_id":         senderID,
		"client_message_id": clientMessageID,
	}).Decode(&msg)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &msg, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*chat.Message, error) {
	var msg chat.Message
	if err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&msg); err != nil {
		return nil, mapNotFound(err)
	}
	return &msg, nil
}

func (s *Store) ListOlder(ctx context.Context, conversationID string, cursor chat.Cursor, limit int) ([]*chat.Message, error) {
	filter := bson.M{"conversation_id": conversationID}
	if !cursor.IsZero() {
		filter["$or"] = bson.A{
			bson.M{"created_at": bson.M{"$lt": cursor.CreatedAt}},
			bson.M{"created_at": cursor.CreatedAt, "_id": bson.M{"$lt": cursor.MessageID}},
		}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]*chat.Message, 0, limit)
	for cur.Next(ctx) {
		var msg chat.Message
		if err := cur.Decode(&msg); err != nil {
			return nil, err
		}
		out = append(out, &msg)
	}
	return out, cur.Err()
}

func (s *Store) UpdateMessage(ctx context.Context, msg *chat.Message) error {
	res, err := s.messages.ReplaceOne(ctx, bson.M{"_id": msg.ID}, msg)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateSummary(ctx context.Context, conversationID string, summary *chat.MessageSummary) error {
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"last_message": summary}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID, userID, messageID string, at time.Time) ([]string, error) {
	var changed []string
	err := s.inTransaction(ctx, func(sc mongo.SessionContext) error {
		var err error
		changed, err = s.applyReceipts(sc, conversationID, userID, messageID, at, "read_by")
		if err != nil {
			return err
		}
		// zeroing here, inside the same transaction as the receipt walk,
		// keeps the counter single-writer against concurrent appends
		_, err = s.conversations.UpdateOne(sc,
			bson.M{"_id": conversationID},
			bson.M{"$set": bson.M{"unread." + userID: 0}})
		return err
	})
	return changed, err
}

func (s *Store) MarkDelivered(ctx context.Context, conversationID, userID, messageID string, at time.Time) ([]string, error) {
	var changed []string
	err := s.inTransaction(ctx, func(sc mongo.SessionContext) error {
		var err error
		changed, err = s.applyReceipts(sc, conversationID, userID, messageID, at, "delivered_to")
		return err
	})
	return changed, err
}

// applyReceipts grows the receipt arrays of every message up to and
// including the target. Receipt sets only grow; messages already
// containing the user are filtered out up front.
func (s *Store) applyReceipts(sc mongo.SessionContext, conversationID, userID, messageID string, at time.Time, field string) ([]string, error) {
	target, err := s.GetMessage(sc, messageID)
	if err != nil {
		return nil, err
	}
	upTo := bson.A{
		bson.M{"created_at": bson.M{"$lt": target.CreatedAt}},
		bson.M{"created_at": target.CreatedAt, "_id": bson.M{"$lte": target.ID}},
	}
	filter := bson.M{
		"conversation_id":  conversationID,
		"sender_id":        bson.M{"$ne": userID},
		field + ".user_id": bson.M{"$ne": userID},
		"$or":              upTo,
	}
	cur, err := s.messages.Find(sc, filter,
		options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var ids []string
	for cur.Next(sc) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			cur.Close(sc)
			return nil, err
		}
		ids = append(ids, row.ID)
	}
	cur.Close(sc)
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	receipt := chat.Receipt{UserID: userID, At: at.UTC()}
	push := bson.M{field: receipt}
	if field == "read_by" {
		// a read implies delivery
		push = bson.M{"read_by": receipt}
		if _, err := s.messages.UpdateMany(sc,
			bson.M{"_id": bson.M{"$in": ids}, "delivered_to.user_id": bson.M{"$ne": userID}},
			bson.M{"$push": bson.M{"delivered_to": receipt}}); err != nil {
			return nil, err
		}
	}
	if _, err := s.messages.UpdateMany(sc,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$push": push}); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) inTransaction(ctx context.Context, fn func(mongo.SessionContext) error) error {
	session, err := s.db.Client().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

func mapNotFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.ErrNotFound
	}
	return err
}

var _ messaging.Store = (*Store)(nil)
