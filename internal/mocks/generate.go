package mocks

//go:generate mockery --name EventStore --srcpkg github.com/landale/eventpipe/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
