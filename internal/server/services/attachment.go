package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/nexuschat/nexus/internal/common"
	"github.com/nexuschat/nexus/internal/dbx"
	"github.com/nexuschat/nexus/internal/server/config"
	"github.com/nexuschat/nexus/internal/server/models"
	"github.com/nexuschat/nexus/internal/server/repositories/repomanager"
)

// Seams over the AWS SDK constructors, swapped in tests.
var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// DocumentExtensions lists the file types accepted as conversation documents.
var DocumentExtensions = []string{".pdf", ".txt", ".docx"}

// AttachmentService records documents uploaded into conversations. Clients
// move the bytes themselves through presigned URLs.
type AttachmentService struct {
	db          dbx.Transactor
	repomanager repomanager.RepositoryManager
	config      *config.Config
	opts        options
}

func NewAttachmentService(db dbx.Transactor, m repomanager.RepositoryManager, cfg *config.Config, opts ...Option) *AttachmentService {
	return &AttachmentService{
		db:          db,
		repomanager: m,
		config:      cfg,
		opts:        newOptions(opts),
	}
}

func (s *AttachmentService) storageKey(userID models.UserID, fileName string) string {
	d := s.opts.now().UTC()
	return fmt.Sprintf("users/%s/%d/%02d/%02d/%v%s", userID, d.Year(), d.Month(), d.Day(), uuid.New(), strings.ToLower(path.Ext(fileName)))
}

func (s *AttachmentService) getPresignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(s.config.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	return newS3PresignClient(client), nil
}

func (s *AttachmentService) expiry() time.Duration {
	if s.config.PresignExpiry > 0 {
		return s.config.PresignExpiry
	}
	return 15 * time.Minute
}

// CreateUpload records a pending document and returns the URL to PUT its
// bytes to.
func (s *AttachmentService) CreateUpload(ctx context.Context, userID models.UserID, conversationID, fileName, contentType string) (*models.UploadTask, error) {
	fileName = path.Base(strings.TrimSpace(fileName))
	if !allowedDocument(fileName) {
		return nil, common.ErrorValidation
	}

	if _, err := ownedConversation(ctx, s.repomanager, s.db.Conn(), s.opts, userID, conversationID); err != nil {
		return nil, err
	}

	pc, err := s.getPresignClient(ctx)
	if err != nil {
		return nil, internalError(ctx, s.opts.log, "presign client", err)
	}

	bucket := s.config.S3Bucket
	key := s.storageKey(userID, fileName)
	in := &s3.PutObjectInput{Bucket: &bucket, Key: &key}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	req, err := presignPutObject(pc, ctx, in, s3.WithPresignExpires(s.expiry()))
	if err != nil {
		return nil, internalError(ctx, s.opts.log, "presign put", err)
	}

	a := &models.Attachment{
		ConversationID: conversationID,
		UserID:         userID,
		FileName:       fileName,
		ContentType:    contentType,
		StorageKey:     key,
	}
	err = s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Attachments(tx).Create(ctx, a); err != nil {
			return err
		}
		return s.repomanager.Conversations(tx).Touch(ctx, conversationID, s.opts.now())
	})
	if err != nil {
		return nil, internalError(ctx, s.opts.log, "create attachment", err)
	}

	return &models.UploadTask{Attachment: a, URL: req.URL}, nil
}

// List returns the attachments of an owned conversation.
func (s *AttachmentService) List(ctx context.Context, userID models.UserID, conversationID string) ([]*models.Attachment, error) {
	if _, err := ownedConversation(ctx, s.repomanager, s.db.Conn(), s.opts, userID, conversationID); err != nil {
		return nil, err
	}
	list, err := s.repomanager.Attachments(s.db.Conn()).ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, internalError(ctx, s.opts.log, "list attachments", err)
	}
	return list, nil
}

// DownloadURL presigns a GET for an attachment the user owns.
func (s *AttachmentService) DownloadURL(ctx context.Context, userID models.UserID, attachmentID string) (string, error) {
	if !isUUID(attachmentID) {
		return "", common.ErrorNotFound
	}
	a, err := s.repomanager.Attachments(s.db.Conn()).GetOwned(ctx, attachmentID, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", common.ErrorNotFound
		}
		return "", internalError(ctx, s.opts.log, "load attachment", err)
	}

	pc, err := s.getPresignClient(ctx)
	if err != nil {
		return "", internalError(ctx, s.opts.log, "presign client", err)
	}

	bucket := s.config.S3Bucket
	req, err := presignGetObject(pc, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &a.StorageKey,
	}, s3.WithPresignExpires(s.expiry()))
	if err != nil {
		return "", internalError(ctx, s.opts.log, "presign get", err)
	}
	return req.URL, nil
}

func allowedDocument(fileName string) bool {
	if fileName == "" || fileName == "." || fileName == "/" {
		return false
	}
	ext := strings.ToLower(path.Ext(fileName))
	for _, e := range DocumentExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
