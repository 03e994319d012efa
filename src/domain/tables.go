package domain

// TableEntities é a tabela do store de entidades, monitorada pelo Debezium.
const TableEntities = "axonius_entities"
