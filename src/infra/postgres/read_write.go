package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// ReadWriteClient separa o primário (escritas e leituras sob lock) da réplica (scans longos).
type ReadWriteClient struct {
	readPool  *pgxpool.Pool
	writePool *pgxpool.Pool
}

func NewReadWriteClient(
	readHost string,
	writeHost string,
	readPort string,
	writePort string,
	dbname string,
	username string,
	password string,
	maxConnections int,
) (*ReadWriteClient, error) {
	writePool, err := NewPostgresClient(writeHost, writePort, dbname, username, password, maxConnections)
	if err != nil {
		return nil, err
	}

	if readHost == writeHost && readPort == writePort {
		return &ReadWriteClient{readPool: writePool, writePool: writePool}, nil
	}

	readPool, err := NewPostgresClient(readHost, readPort, dbname, username, password, maxConnections)
	if err != nil {
		writePool.Close()
		return nil, err
	}

	return &ReadWriteClient{
		readPool:  readPool,
		writePool: writePool,
	}, nil
}

func (rwc *ReadWriteClient) GetReadPool() *pgxpool.Pool {
	return rwc.readPool
}

func (rwc *ReadWriteClient) GetWritePool() *pgxpool.Pool {
	return rwc.writePool
}

func (rwc *ReadWriteClient) Close() {
	if rwc.readPool != rwc.writePool {
		rwc.readPool.Close()
	}
	rwc.writePool.Close()
}
