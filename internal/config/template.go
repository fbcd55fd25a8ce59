package config

// EnvPrefix is the prefix for environment variable overrides, e.g.
// MYSQL_DATA_VAULT_DATABASE_PASSWORD
const EnvPrefix = "MYSQL_DATA_VAULT"

// SampleConfig returns a complete, commented configuration file
func SampleConfig() string {
	return `# mysql-data-vault configuration file

# Business database to back up and restore into
database:
  driver: mysql           # mysql or postgres
  host: localhost
  port: 3306
  username: vault
  password: ""            # prefer MYSQL_DATA_VAULT_DATABASE_PASSWORD
  database: erp
  timeout: 30s
  max_open_conns: 10

# Archive output
archive:
  directory: ./archives
  compression: gzip       # gzip, zstd, lz4 or none
  level: 9                # 0 uses the algorithm default

# Background job execution
jobs:
  max_concurrent: 2       # jobs running at once; more wait as pending
  progress_interval: 50   # records between restore progress updates
  ledger: memory          # memory or sql (backup_jobs / restore_jobs tables)
  audit_log: ""           # optional JSON audit trail of job transitions

# Optional mirror of finished archives
storage:
  provider: none          # none, local, s3, azure or gcs
  # local:
  #   base_path: /mnt/offsite/archives
  # s3:
  #   bucket: vault-archives
  #   region: us-east-1
  #   prefix: erp
  #   access_key: ""      # empty uses the default AWS credential chain
  #   secret_key: ""
  # azure:
  #   account_name: ""
  #   account_key: ""
  #   container_name: archives
  # gcs:
  #   bucket: vault-archives
  #   credentials_path: ""
  #   prefix: erp

# Domain catalog overrides (YAML); empty uses the built-in catalog
catalog_file: ""

# Recurring backups run by 'mysql-data-vault schedule run'
schedules:
  - name: nightly
    frequency: daily      # daily, weekly or monthly
    time_of_day: "02:00"
    domains: [customers, sales, manufacturing]
    max_backups_to_keep: 7
    is_active: true

logging:
  level: normal           # quiet, normal, verbose or debug
  format: text            # text or json
  file: ""                # rotated log file, e.g. /var/log/mysql-data-vault.log
  max_size_mb: 100
  max_backups: 3

metrics:
  enabled: false
  address: ":9090"
  path: /metrics
`
}
